package normalize

import "strings"

// UnknownMachine is recorded when neither the record nor the classifier knows a machine.
const UnknownMachine = "unknown-machine"

// placeholder machine values written by legacy collectors.
var machinePlaceholders = map[string]struct{}{
	"unknown machine": {},
	"unknown":         {},
	"unknown-machine": {},
}

type kindDefaults struct {
	source     string
	syncedFrom string
}

var collectorDefaults = map[Kind]kindDefaults{
	KindMemory:    {source: "memory_sync", syncedFrom: "claude_desktop_memory"},
	KindEmbedding: {source: "context_embeddings", syncedFrom: "context_embeddings"},
	KindBrowser:   {source: "browser_extension", syncedFrom: "browser_extension"},
	KindWebhook:   {source: "github_webhook", syncedFrom: "github_webhook"},
	KindCLI:       {source: "cli", syncedFrom: "cli"},
	KindGit:       {source: "git_hook", syncedFrom: "git_collector"},
}

// Attribution is the canonical origin of a record.
type Attribution struct {
	Source          string
	Tool            string
	Machine         string
	MachineInferred bool
	SyncedFrom      string
}

// Attributor resolves source, tool and machine.
type Attributor struct {
	tables          *Tables
	fallbackMachine string
}

// NewAttributor builds an Attributor. fallbackMachine is used when a record
// carries no machine of its own, normally the classifier's hostname.
func NewAttributor(t *Tables, fallbackMachine string) Attributor {
	fallbackMachine = strings.TrimSpace(fallbackMachine)
	if fallbackMachine == "" {
		fallbackMachine = UnknownMachine
	}
	return Attributor{tables: t, fallbackMachine: fallbackMachine}
}

// Attribute never fails: unknown tools pass through unchanged.
func (a Attributor) Attribute(raw RawInputRecord) Attribution {
	defaults := collectorDefaults[raw.kind()]
	if defaults.source == "" {
		defaults = kindDefaults{source: string(raw.kind()), syncedFrom: string(raw.kind())}
	}

	source := raw.metaString("source")
	if source == "" {
		source = defaults.source
	}

	toolKey := firstNonEmpty(raw.metaString("tool"), raw.metaString("actual_source"), source)

	out := Attribution{
		Source:     source,
		Tool:       a.tables.ToolName(toolKey),
		SyncedFrom: defaults.syncedFrom,
	}

	machine := strings.TrimSpace(raw.metaString("machine"))
	if _, placeholder := machinePlaceholders[strings.ToLower(machine)]; machine == "" || placeholder {
		machine = a.fallbackMachine
		out.MachineInferred = true
	}
	if machine != UnknownMachine {
		machine = a.tables.MachineName(machine)
	}
	out.Machine = machine
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
