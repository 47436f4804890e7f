package normalize

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_tables.yaml
var defaultTablesYAML []byte

// tableFile is the on-disk shape of the lookup tables.
type tableFile struct {
	Aliases          map[string]string `yaml:"aliases"`
	StopWords        []string          `yaml:"stop_words"`
	MinProjectLength int               `yaml:"min_project_length"`
	TextPatterns     []string          `yaml:"text_patterns"`
	KnownProjects    []KnownProject    `yaml:"known_projects"`
	Tools            map[string]string `yaml:"tools"`
	Machines         map[string]string `yaml:"machines"`
	ActivityTypes    []string          `yaml:"activity_types"`
	BrowserTasks     []BrowserTask     `yaml:"browser_tasks"`
}

// KnownProject maps keyword patterns to a canonical project name.
type KnownProject struct {
	Name     string   `yaml:"name"`
	Patterns []string `yaml:"patterns"`
}

// BrowserTask labels a tab by host plus an optional path or title fragment.
type BrowserTask struct {
	Host  string `yaml:"host"`
	Path  string `yaml:"path"`
	Title string `yaml:"title"`
	Task  string `yaml:"task"`
}

type compiledProject struct {
	name     string
	patterns []*regexp.Regexp
}

// Tables is an immutable, compiled snapshot of the lookup tables.
type Tables struct {
	aliases       map[string]string
	stopWords     map[string]struct{}
	minLength     int
	textPatterns  []*regexp.Regexp
	knownProjects []compiledProject
	tools         map[string]string
	machines      map[string]string
	activityTypes map[string]struct{}
	browserTasks  []BrowserTask
}

var defaultTables = mustCompileDefault()

func mustCompileDefault() *Tables {
	var file tableFile
	if err := yaml.Unmarshal(defaultTablesYAML, &file); err != nil {
		panic(fmt.Sprintf("normalize: decode default tables: %v", err))
	}
	t, err := compileTables(file)
	if err != nil {
		panic(fmt.Sprintf("normalize: compile default tables: %v", err))
	}
	return t
}

// DefaultTables returns the built-in lookup tables.
func DefaultTables() *Tables {
	return defaultTables
}

// LoadTables reads a YAML override file and merges it over the defaults.
// Map entries are merged key by key; a non-empty list replaces the default list.
func LoadTables(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tables %s: %w", path, err)
	}
	return ParseTables(data)
}

// ParseTables merges YAML table overrides over the defaults.
func ParseTables(data []byte) (*Tables, error) {
	var base tableFile
	if err := yaml.Unmarshal(defaultTablesYAML, &base); err != nil {
		return nil, fmt.Errorf("decode default tables: %w", err)
	}
	var override tableFile
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("decode tables: %w", err)
	}
	return compileTables(mergeTableFiles(base, override))
}

func mergeTableFiles(base, override tableFile) tableFile {
	for k, v := range override.Aliases {
		base.Aliases[k] = v
	}
	for k, v := range override.Tools {
		base.Tools[k] = v
	}
	if base.Machines == nil && len(override.Machines) > 0 {
		base.Machines = make(map[string]string, len(override.Machines))
	}
	for k, v := range override.Machines {
		base.Machines[k] = v
	}
	if len(override.StopWords) > 0 {
		base.StopWords = override.StopWords
	}
	if override.MinProjectLength > 0 {
		base.MinProjectLength = override.MinProjectLength
	}
	if len(override.TextPatterns) > 0 {
		base.TextPatterns = override.TextPatterns
	}
	if len(override.KnownProjects) > 0 {
		base.KnownProjects = override.KnownProjects
	}
	if len(override.ActivityTypes) > 0 {
		base.ActivityTypes = override.ActivityTypes
	}
	if len(override.BrowserTasks) > 0 {
		base.BrowserTasks = override.BrowserTasks
	}
	return base
}

func compileTables(file tableFile) (*Tables, error) {
	t := &Tables{
		aliases:       make(map[string]string, len(file.Aliases)*2),
		stopWords:     make(map[string]struct{}, len(file.StopWords)),
		minLength:     file.MinProjectLength,
		tools:         make(map[string]string, len(file.Tools)),
		machines:      make(map[string]string, len(file.Machines)),
		activityTypes: make(map[string]struct{}, len(file.ActivityTypes)),
		browserTasks:  append([]BrowserTask(nil), file.BrowserTasks...),
	}
	if t.minLength <= 0 {
		t.minLength = 3
	}

	for alias, canonical := range file.Aliases {
		t.aliases[foldKey(alias)] = strings.TrimSpace(canonical)
	}
	// Canonical names resolve to themselves so already-normalized hints stay stable.
	for _, canonical := range file.Aliases {
		canonical = strings.TrimSpace(canonical)
		if canonical == "" {
			continue
		}
		if _, exists := t.aliases[foldKey(canonical)]; !exists {
			t.aliases[foldKey(canonical)] = canonical
		}
	}
	for _, kp := range file.KnownProjects {
		if name := strings.TrimSpace(kp.Name); name != "" {
			if _, exists := t.aliases[foldKey(name)]; !exists {
				t.aliases[foldKey(name)] = name
			}
		}
	}

	for _, w := range file.StopWords {
		t.stopWords[foldKey(w)] = struct{}{}
	}
	for key, display := range file.Tools {
		t.tools[foldKey(key)] = display
	}
	for host, name := range file.Machines {
		if name = strings.TrimSpace(name); name != "" {
			t.machines[foldKey(host)] = name
		}
	}
	for _, at := range file.ActivityTypes {
		t.activityTypes[foldKey(at)] = struct{}{}
	}

	for _, expr := range file.TextPatterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("text pattern %q: %w", expr, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("text pattern %q: needs a capture group", expr)
		}
		t.textPatterns = append(t.textPatterns, re)
	}

	for _, kp := range file.KnownProjects {
		cp := compiledProject{name: strings.TrimSpace(kp.Name)}
		if cp.name == "" {
			return nil, fmt.Errorf("known project without name")
		}
		for _, expr := range kp.Patterns {
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				return nil, fmt.Errorf("known project %s pattern %q: %w", cp.name, expr, err)
			}
			cp.patterns = append(cp.patterns, re)
		}
		t.knownProjects = append(t.knownProjects, cp)
	}
	return t, nil
}

// Alias looks up a canonical project name. A found alias with an empty
// canonical name is a blocked token.
func (t *Tables) Alias(raw string) (canonical string, found bool) {
	canonical, found = t.aliases[foldKey(raw)]
	return canonical, found
}

// ToolName maps a raw tool or source key to its display name; unknown keys pass through.
func (t *Tables) ToolName(raw string) string {
	if display, ok := t.tools[foldKey(raw)]; ok {
		return display
	}
	return raw
}

// MachineName maps a hostname or legacy machine label to its display name;
// unknown names are returned trimmed.
func (t *Tables) MachineName(raw string) string {
	if name, ok := t.machines[foldKey(raw)]; ok {
		return name
	}
	return strings.TrimSpace(raw)
}

// KnownActivityType reports whether the activity type belongs to the recommended set.
func (t *Tables) KnownActivityType(activityType string) bool {
	_, ok := t.activityTypes[foldKey(activityType)]
	return ok
}

// ProjectAliases returns a copy of the alias table, skipping blocked tokens.
func (t *Tables) ProjectAliases() map[string]string {
	out := make(map[string]string, len(t.aliases))
	for k, v := range t.aliases {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func foldKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
