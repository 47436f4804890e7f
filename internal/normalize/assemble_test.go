package normalize

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func steppingClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
}

func TestAssembleWorkingOnScenario(t *testing.T) {
	a := NewAssembler(WithFallbackMachine("bridge-host"))

	rec, ok, err := a.Assemble(RawInputRecord{
		Content:  "Working on FlowState: fixed dashboard auth bug",
		Metadata: map[string]any{},
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, DefaultUserID, rec.UserID)
	require.Equal(t, "FlowState AI", rec.ProjectName)
	require.Equal(t, TypeDebugging, rec.ActivityType)
	require.Equal(t, "Working on FlowState: fixed dashboard auth bug", rec.Description)
	require.Equal(t, "Memory Sync", rec.Metadata[MetaTool])
	require.Equal(t, "memory_sync", rec.Metadata[MetaSource])
	require.Equal(t, "bridge-host", rec.Metadata[MetaMachine])
	require.Equal(t, "claude_desktop_memory", rec.Metadata[MetaSyncedFrom])
	require.Equal(t, 0.8, rec.Metadata[MetaConfidence])
	require.True(t, rec.MachineInferred())
	require.NotContains(t, rec.Metadata, MetaOriginal)
}

func TestAssembleWebhookPush(t *testing.T) {
	a := NewAssembler()
	pushed := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	rec, ok, err := a.Assemble(RawInputRecord{
		ID:        "delivery-1",
		Kind:      KindWebhook,
		Timestamp: pushed,
		Metadata:  map[string]any{"machine": "github", "url": "https://github.com/todak/flowstate-ai"},
		Webhook: &WebhookEvent{
			Event:          "push",
			Ref:            "refs/heads/main",
			Repository:     "flowstate-ai",
			RepositoryFull: "todak/flowstate-ai",
			CommitMessages: []string{"one", "two", "three"},
		},
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, TypeGitPush, rec.ActivityType)
	require.Equal(t, "FlowState AI", rec.ProjectName)
	require.Equal(t, "Pushed 3 commit(s) to main", rec.Description)
	require.Equal(t, "GitHub", rec.Metadata[MetaTool])
	require.Equal(t, "todak/flowstate-ai", rec.Metadata["repository"])
	require.Equal(t, "delivery-1", rec.Metadata[MetaRawID])
	require.Equal(t, "https://github.com/todak/flowstate-ai", rec.Metadata["url"])
	require.Equal(t, pushed, rec.CreatedAt)
	require.False(t, rec.MachineInferred())
}

func TestAssembleWebhookDescriptions(t *testing.T) {
	a := NewAssembler()

	tests := []struct {
		event WebhookEvent
		want  string
	}{
		{WebhookEvent{Event: "push", Ref: "refs/heads/feature/sync"}, "Pushed 0 commit(s) to feature/sync"},
		{WebhookEvent{Event: "push", Ref: "refs/tags/v1.2.0"}, "Pushed tag v1.2.0"},
		{WebhookEvent{Event: "pull_request", Action: "ready_for_review", Title: "Add sync loop"}, "Ready for review PR: Add sync loop"},
		{WebhookEvent{Event: "issues", Action: "édité", Title: "Doublons"}, "Édité issue: Doublons"},
		{WebhookEvent{Event: "pull_request", Action: "opened", Title: "Add sync loop"}, "Opened PR: Add sync loop"},
		{WebhookEvent{Event: "issues", Action: "closed", Title: "Duplicate projects"}, "Closed issue: Duplicate projects"},
		{WebhookEvent{Event: "create", RefType: "branch", Ref: "hotfix"}, "Created branch: hotfix"},
		{WebhookEvent{Event: "delete", RefType: "tag", Ref: "v0.1.0"}, "Deleted tag: v0.1.0"},
		{WebhookEvent{Event: "star"}, "GitHub star event"},
	}
	for _, tc := range tests {
		ev := tc.event
		ev.Repository = "kenal-admin"
		rec, ok, err := a.Assemble(RawInputRecord{Kind: KindWebhook, Webhook: &ev})
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, tc.want, rec.Description)
	}
}

func TestTitleActionIsRuneSafe(t *testing.T) {
	require.Equal(t, "Updated", titleAction("  "))
	require.Equal(t, "Opened", titleAction("opened"))
	require.Equal(t, "Über", titleAction("über"))
	require.Equal(t, "日本", titleAction("日本"))
}

func TestAssembleToolPassThrough(t *testing.T) {
	a := NewAssembler()

	rec, ok, err := a.Assemble(RawInputRecord{Content: "Working on ClaudeN: refactor", Metadata: map[string]any{"source": "cursor"}})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Cursor AI", rec.Metadata[MetaTool])

	rec, ok, err = a.Assemble(RawInputRecord{Content: "Working on ClaudeN: refactor", Metadata: map[string]any{"source": "some_new_tool"}})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "some_new_tool", rec.Metadata[MetaTool])
}

func TestAssembleRejectsUnresolvedProject(t *testing.T) {
	a := NewAssembler()

	rec, ok, err := a.Assemble(RawInputRecord{Content: "had lunch"})
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, rec.ProjectName)
}

func TestAssembleMalformedRecords(t *testing.T) {
	a := NewAssembler()

	for _, raw := range []RawInputRecord{
		{},
		{ID: "m-9", Content: "   ", Metadata: map[string]any{"project_name": "FlowState"}},
		{Kind: "fax", Content: "Working on FlowState: x"},
		{Kind: KindWebhook, Content: "push"},
	} {
		_, ok, err := a.Assemble(raw)
		require.False(t, ok)
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrMalformedRecord))

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.Equal(t, raw.ID, verr.RawID)
	}
}

func TestTruncationLaw(t *testing.T) {
	a := NewAssembler()
	meta := map[string]any{"project_name": "FlowState"}

	long := strings.Repeat("é", MaxDescriptionLength+40)
	rec, ok, err := a.Assemble(RawInputRecord{Content: long, Metadata: meta})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, MaxDescriptionLength, utf8.RuneCountInString(rec.Description))
	require.True(t, strings.HasSuffix(rec.Description, "..."))
	require.True(t, strings.HasPrefix(long, strings.TrimSuffix(rec.Description, "...")))

	exact := strings.Repeat("a", MaxDescriptionLength)
	rec, _, err = a.Assemble(RawInputRecord{Content: exact, Metadata: meta})
	require.NoError(t, err)
	require.Equal(t, exact, rec.Description)

	short := "short note"
	require.Equal(t, short, Truncate(short))
}

func TestAssembleIsIdempotent(t *testing.T) {
	a := NewAssembler(WithClock(steppingClock(time.Unix(0, 0))), WithFallbackMachine("bridge-host"))
	raw := RawInputRecord{
		ID:        "mem-42",
		Kind:      KindMemory,
		Content:   "Project: Habit Tracker, shipped streak view",
		Metadata:  map[string]any{"source": "claude_desktop", "confidence": 0.7},
		Timestamp: time.Date(2026, 5, 1, 8, 30, 0, 0, time.FixedZone("MYT", 8*3600)),
	}

	first, ok, err := a.Assemble(raw)
	require.NoError(t, err)
	require.True(t, ok)
	second, ok, err := a.Assemble(raw)
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, first, second)
	require.Equal(t, raw.Timestamp.UTC(), first.CreatedAt)
	require.Equal(t, "mem-42", first.Metadata[MetaMemoryID])
	require.Equal(t, 0.7, first.Metadata[MetaConfidence])
	require.Equal(t, "Claude Desktop", first.Metadata[MetaTool])
}

func TestAssembleUsesClockWithoutTimestamp(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewAssembler(WithClock(steppingClock(start)), WithUserID("someone_else"))

	rec, ok, err := a.Assemble(RawInputRecord{Content: "Working on CTK: wiring"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, start.Add(time.Minute), rec.CreatedAt)
	require.Equal(t, "someone_else", rec.UserID)
}

func TestAssembleFlagsUnlistedActivityType(t *testing.T) {
	a := NewAssembler()

	rec, _, err := a.Assemble(RawInputRecord{
		Content:  "Working on CTK: pairing with Ana",
		Metadata: map[string]any{"activity_type": "pairing"},
	})
	require.NoError(t, err)
	require.Equal(t, "pairing", rec.ActivityType)
	require.Equal(t, true, rec.Metadata[MetaUnlistedType])

	rec, _, err = a.Assemble(RawInputRecord{
		Content:  "Working on CTK: fix a bug",
		Metadata: map[string]any{"activity_type": "testing"},
	})
	require.NoError(t, err)
	require.Equal(t, TypeTesting, rec.ActivityType)
	require.NotContains(t, rec.Metadata, MetaUnlistedType)
}

func TestAssembleBrowserRecords(t *testing.T) {
	a := NewAssembler()

	rec, ok, err := a.Assemble(RawInputRecord{
		Kind: KindBrowser,
		Tab:  &BrowserTab{URL: "https://github.com/todak/flowstate-ai/issues/12", Title: "Sync drops records"},
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "FlowState AI", rec.ProjectName)
	require.Equal(t, TypeBrowserActivity, rec.ActivityType)
	require.Equal(t, "Managing issues", rec.Description)
	require.Equal(t, "Browser Extension", rec.Metadata[MetaTool])

	rec, ok, err = a.Assemble(RawInputRecord{
		Kind: KindBrowser,
		Tab:  &BrowserTab{URL: "http://localhost:3000/", Title: "Dashboard - kenal-admin"},
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Kenal Admin", rec.ProjectName)
	require.Equal(t, "Local development", rec.Description)

	rec, ok, err = a.Assemble(RawInputRecord{
		Kind: KindBrowser,
		Tab:  &BrowserTab{URL: "https://example.org/venture-canvas", Title: "VentureCanvas pitch"},
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Working on VentureCanvas", rec.Description)
}

func TestAssembleKeepsOriginalMetadataCopy(t *testing.T) {
	a := NewAssembler()
	meta := map[string]any{"project": "CTK", "custom": "value"}

	rec, ok, err := a.Assemble(RawInputRecord{Content: "notes", Metadata: meta})
	require.NoError(t, err)
	require.True(t, ok)

	original, isMap := rec.Metadata[MetaOriginal].(map[string]any)
	require.True(t, isMap)
	require.Equal(t, "value", original["custom"])

	meta["custom"] = "changed"
	require.Equal(t, "value", original["custom"])
}
