package normalize

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// MaxDescriptionLength bounds ActivityRecord.Description in runes.
const MaxDescriptionLength = 255

const ellipsis = "..."

// TableSource yields the tables to use for the next record.
type TableSource interface {
	Current() *Tables
}

type staticTables struct {
	tables *Tables
}

func (s staticTables) Current() *Tables { return s.tables }

// StaticTables wraps a fixed snapshot as a TableSource.
func StaticTables(t *Tables) TableSource {
	if t == nil {
		t = DefaultTables()
	}
	return staticTables{tables: t}
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithClock overrides the clock used when a raw record carries no timestamp.
func WithClock(clock func() time.Time) Option {
	return func(a *Assembler) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithUserID overrides the owner written to every record.
func WithUserID(userID string) Option {
	return func(a *Assembler) {
		if userID = strings.TrimSpace(userID); userID != "" {
			a.userID = userID
		}
	}
}

// WithFallbackMachine sets the machine recorded when a raw record has none.
func WithFallbackMachine(machine string) Option {
	return func(a *Assembler) {
		a.fallbackMachine = machine
	}
}

// WithTables sets the table source consulted per record.
func WithTables(source TableSource) Option {
	return func(a *Assembler) {
		if source != nil {
			a.tables = source
		}
	}
}

// Assembler combines resolver, classifier and attributor into canonical records.
// It holds no mutable state and is safe for concurrent use.
type Assembler struct {
	tables          TableSource
	clock           func() time.Time
	userID          string
	fallbackMachine string
	classifier      Classifier
}

// NewAssembler constructs an Assembler over the default tables.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{
		tables:     StaticTables(nil),
		clock:      time.Now,
		userID:     DefaultUserID,
		classifier: NewClassifier(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// UserID returns the owner written to every record.
func (a *Assembler) UserID() string {
	return a.userID
}

// Outcome carries the intermediate decisions behind an assembled record.
type Outcome struct {
	Project     Resolution
	Attribution Attribution
	Unlisted    bool
}

// Assemble normalizes one raw record. ok is false when the project cannot be
// resolved; err is a *ValidationError when the record is malformed.
func (a *Assembler) Assemble(raw RawInputRecord) (ActivityRecord, bool, error) {
	rec, _, ok, err := a.AssembleOutcome(raw)
	return rec, ok, err
}

// AssembleOutcome is Assemble plus the decisions taken along the way.
func (a *Assembler) AssembleOutcome(raw RawInputRecord) (ActivityRecord, Outcome, bool, error) {
	if err := validate(raw); err != nil {
		return ActivityRecord{}, Outcome{}, false, err
	}

	tables := a.tables.Current()
	project, resolved := NewResolver(tables).Resolve(raw)
	activityType := a.classifier.Classify(raw)
	attribution := NewAttributor(tables, a.fallbackMachine).Attribute(raw)

	outcome := Outcome{
		Project:     project,
		Attribution: attribution,
		Unlisted:    !tables.KnownActivityType(activityType),
	}
	if !resolved {
		return ActivityRecord{}, outcome, false, nil
	}

	meta := map[string]any{
		MetaSource:        attribution.Source,
		MetaTool:          attribution.Tool,
		MetaMachine:       attribution.Machine,
		MetaSyncedFrom:    attribution.SyncedFrom,
		MetaConfidence:    confidence(raw, project),
		MetaProjectSource: string(project.Source),
	}
	if attribution.MachineInferred {
		meta[MetaMachineInferred] = true
	}
	if outcome.Unlisted {
		meta[MetaUnlistedType] = true
	}
	if raw.ID != "" {
		meta[MetaRawID] = raw.ID
		switch raw.kind() {
		case KindMemory:
			meta[MetaMemoryID] = raw.ID
		case KindEmbedding:
			meta[MetaEmbeddingID] = raw.ID
		}
	}
	if raw.Webhook != nil {
		meta["github_event"] = raw.Webhook.Event
		if raw.Webhook.RepositoryFull != "" {
			meta["repository"] = raw.Webhook.RepositoryFull
		}
		if raw.Webhook.Sender != "" {
			meta["sender"] = raw.Webhook.Sender
		}
		if u := raw.metaString("url"); u != "" {
			meta["url"] = u
		}
	}
	if raw.Tab != nil && raw.Tab.URL != "" {
		meta["url"] = raw.Tab.URL
	}
	if len(raw.Metadata) > 0 {
		original := make(map[string]any, len(raw.Metadata))
		for k, v := range raw.Metadata {
			original[k] = v
		}
		meta[MetaOriginal] = original
	}

	createdAt := raw.Timestamp
	if createdAt.IsZero() {
		createdAt = a.clock()
	}

	return ActivityRecord{
		UserID:       a.userID,
		ProjectName:  project.Name,
		ActivityType: activityType,
		Description:  Truncate(describe(raw, tables, project.Name)),
		Metadata:     meta,
		CreatedAt:    createdAt.UTC(),
	}, outcome, true, nil
}

func validate(raw RawInputRecord) error {
	switch raw.kind() {
	case KindMemory, KindEmbedding, KindBrowser, KindWebhook, KindCLI, KindGit:
	default:
		return &ValidationError{RawID: raw.ID, Kind: raw.Kind, Reason: "unknown record kind"}
	}
	if raw.kind() == KindWebhook && raw.Webhook == nil {
		return &ValidationError{RawID: raw.ID, Kind: raw.Kind, Reason: "webhook record without event"}
	}
	if !raw.hasText() {
		return &ValidationError{RawID: raw.ID, Kind: raw.kind(), Reason: "no text fields"}
	}
	return nil
}

func confidence(raw RawInputRecord, project Resolution) float64 {
	if raw.Metadata != nil {
		var c float64
		switch v := raw.Metadata[MetaConfidence].(type) {
		case float64:
			c = v
		case float32:
			c = float64(v)
		case int:
			c = float64(v)
		default:
			return project.Confidence
		}
		if c >= 0 && c <= 1 {
			return c
		}
	}
	return project.Confidence
}

// Truncate caps s at MaxDescriptionLength runes, ending with "..." when cut.
func Truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxDescriptionLength {
		return s
	}
	return string(runes[:MaxDescriptionLength-len(ellipsis)]) + ellipsis
}

func describe(raw RawInputRecord, tables *Tables, project string) string {
	if raw.Webhook != nil {
		return describeWebhook(*raw.Webhook)
	}
	if s := strings.TrimSpace(raw.Content); s != "" {
		return s
	}
	if s := strings.TrimSpace(raw.Description); s != "" {
		return s
	}
	if raw.Tab != nil {
		if task := tables.browserTask(*raw.Tab); task != "" {
			return task
		}
	}
	return "Working on " + project
}

func describeWebhook(ev WebhookEvent) string {
	switch strings.ToLower(ev.Event) {
	case "push":
		if tag, ok := strings.CutPrefix(ev.Ref, "refs/tags/"); ok {
			return fmt.Sprintf("Pushed tag %s", tag)
		}
		branch := strings.TrimPrefix(ev.Ref, "refs/heads/")
		if branch == "" {
			branch = "main"
		}
		return fmt.Sprintf("Pushed %d commit(s) to %s", len(ev.CommitMessages), branch)
	case "pull_request":
		return fmt.Sprintf("%s PR: %s", titleAction(ev.Action), ev.Title)
	case "issues":
		return fmt.Sprintf("%s issue: %s", titleAction(ev.Action), ev.Title)
	case "create":
		return fmt.Sprintf("Created %s: %s", ev.RefType, ev.Ref)
	case "delete":
		return fmt.Sprintf("Deleted %s: %s", ev.RefType, ev.Ref)
	default:
		return fmt.Sprintf("GitHub %s event", ev.Event)
	}
}

// titleAction turns a webhook action such as "ready_for_review" into "Ready for review".
func titleAction(action string) string {
	action = strings.ReplaceAll(strings.TrimSpace(action), "_", " ")
	if action == "" {
		return "Updated"
	}
	r, size := utf8.DecodeRuneInString(action)
	return string(unicode.ToUpper(r)) + action[size:]
}

// browserTask labels a tab from the browser task table.
func (t *Tables) browserTask(tab BrowserTab) string {
	u, err := url.Parse(tab.URL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Host)
	title := strings.ToLower(tab.Title)
	for _, bt := range t.browserTasks {
		if !strings.EqualFold(bt.Host, host) {
			continue
		}
		if bt.Path != "" && !strings.Contains(u.Path, bt.Path) {
			continue
		}
		if bt.Title != "" && !strings.Contains(title, strings.ToLower(bt.Title)) {
			continue
		}
		return bt.Task
	}
	return ""
}
