// Package normalize turns heterogeneous raw activity records into canonical
// activity log entries. Every function in this package is pure: the lookup
// tables are immutable snapshots and the only clock is the one injected into
// the Assembler.
package normalize

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies the collector that produced a raw record.
type Kind string

const (
	KindMemory    Kind = "memory"
	KindEmbedding Kind = "embedding"
	KindBrowser   Kind = "browser"
	KindWebhook   Kind = "webhook"
	KindCLI       Kind = "cli"
	KindGit       Kind = "git"
)

// Canonical activity types.
const (
	TypeDevelopment     = "development"
	TypeDebugging       = "debugging"
	TypeDeployment      = "deployment"
	TypeTesting         = "testing"
	TypeDocumentation   = "documentation"
	TypeGitCommit       = "git_commit"
	TypeGitPush         = "git_push"
	TypeGitCreate       = "git_create"
	TypeGitDelete       = "git_delete"
	TypePullRequest     = "pull_request"
	TypeIssueManagement = "issue_management"
	TypeGitHubActivity  = "github_activity"
	TypeBrowserActivity = "browser_activity"
	TypeAIConversation  = "ai_conversation"
	TypeCriticalUpdate  = "critical_update"
	TypeMemorySync      = "memory_sync"
)

// DefaultUserID is the single tenant every activity belongs to.
const DefaultUserID = "neo_todak"

// RawInputRecord is a source-side event prior to normalization.
type RawInputRecord struct {
	ID          string         `json:"id,omitempty"`
	Kind        Kind           `json:"kind,omitempty"`
	Content     string         `json:"content,omitempty"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Tab         *BrowserTab    `json:"tab,omitempty"`
	Webhook     *WebhookEvent  `json:"webhook,omitempty"`
}

// BrowserTab is the tab snapshot reported by the browser extension.
type BrowserTab struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// WebhookEvent is the subset of a version-control webhook needed for classification.
type WebhookEvent struct {
	Event          string   `json:"event"`
	Action         string   `json:"action,omitempty"`
	Ref            string   `json:"ref,omitempty"`
	RefType        string   `json:"ref_type,omitempty"`
	Repository     string   `json:"repository,omitempty"`
	RepositoryFull string   `json:"repository_full_name,omitempty"`
	Sender         string   `json:"sender,omitempty"`
	Title          string   `json:"title,omitempty"`
	CommitMessages []string `json:"commit_messages,omitempty"`
}

// ActivityRecord is the canonical entry written to the shared activity log.
type ActivityRecord struct {
	UserID       string         `json:"user_id"`
	ProjectName  string         `json:"project_name"`
	ActivityType string         `json:"activity_type"`
	Description  string         `json:"activity_description"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

// MachineInferred reports whether the machine was substituted by the classifier host.
func (r ActivityRecord) MachineInferred() bool {
	v, _ := r.Metadata[MetaMachineInferred].(bool)
	return v
}

// Metadata keys written by the assembler.
const (
	MetaSource          = "source"
	MetaTool            = "tool"
	MetaMachine         = "machine"
	MetaMachineInferred = "machine_inferred"
	MetaConfidence      = "confidence"
	MetaSyncedFrom      = "synced_from"
	MetaRawID           = "raw_id"
	MetaMemoryID        = "memory_id"
	MetaEmbeddingID     = "embedding_id"
	MetaProjectSource   = "project_source"
	MetaUnlistedType    = "activity_type_unlisted"
	MetaOriginal        = "original_metadata"
)

func (r RawInputRecord) kind() Kind {
	if r.Kind == "" {
		return KindMemory
	}
	return r.Kind
}

// metaString returns a trimmed string metadata value, or "" when absent or not textual.
func (r RawInputRecord) metaString(key string) string {
	if r.Metadata == nil {
		return ""
	}
	switch v := r.Metadata[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}

// prose joins the human-written fields one per line. Project text patterns
// run on prose only: a URL's scheme colon would otherwise close a
// "working on X:" match.
func (r RawInputRecord) prose() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{r.Content, r.Description} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if r.Tab != nil {
		if s := strings.TrimSpace(r.Tab.Title); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// text is prose plus the tab URL, for keyword scans.
func (r RawInputRecord) text() string {
	text := r.prose()
	if r.Tab == nil {
		return text
	}
	u := strings.TrimSpace(r.Tab.URL)
	switch {
	case u == "":
		return text
	case text == "":
		return u
	}
	return text + "\n" + u
}

func (r RawInputRecord) hasText() bool {
	if strings.TrimSpace(r.Content) != "" || strings.TrimSpace(r.Description) != "" {
		return true
	}
	if r.Tab != nil && (strings.TrimSpace(r.Tab.Title) != "" || strings.TrimSpace(r.Tab.URL) != "") {
		return true
	}
	return r.Webhook != nil && strings.TrimSpace(r.Webhook.Event) != ""
}
