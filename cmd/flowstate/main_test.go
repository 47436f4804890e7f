package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"example.com/flowstate/internal/config"
	"example.com/flowstate/internal/domain"
	"example.com/flowstate/internal/normalize"
)

func testApp(t *testing.T, stdin string) (*app, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	return &app{
		cfg: config.Config{
			UserID:                normalize.DefaultUserID,
			Machine:               "test-host",
			RejectLogPath:         filepath.Join(t.TempDir(), "rejects.db"),
			SyncCheckpointBackend: config.CheckpointBackendPostgres,
		},
		stdin:  strings.NewReader(stdin),
		stdout: &out,
		stderr: &errOut,
	}, &out
}

func run(t *testing.T, a *app, args ...string) error {
	t.Helper()
	root := newRootCmd(a)
	root.SetArgs(args)
	return root.Execute()
}

func decodeResults(t *testing.T, out *bytes.Buffer) []classifyResult {
	t.Helper()
	var results []classifyResult
	dec := json.NewDecoder(out)
	for dec.More() {
		var r classifyResult
		require.NoError(t, dec.Decode(&r))
		results = append(results, r)
	}
	return results
}

func TestClassifyCommand(t *testing.T) {
	input := strings.Join([]string{
		`{"id":"m1","kind":"memory","content":"Working on FlowState: fixed dashboard auth bug"}`,
		``,
		`{"id":"m2","content":"had lunch"}`,
		`{not json`,
		`{"id":"m3","kind":"carrier-pigeon","content":"Working on CTK: x"}`,
	}, "\n")
	a, out := testApp(t, input)

	require.NoError(t, run(t, a, "classify"))

	results := decodeResults(t, out)
	require.Len(t, results, 4)
	require.NotNil(t, results[0].Record)
	require.Equal(t, "FlowState AI", results[0].Record.ProjectName)
	require.Equal(t, "test-host", results[0].Record.Metadata[normalize.MetaMachine])
	require.Equal(t, normalize.RejectUnresolvedProject, results[1].Reject)
	require.Equal(t, normalize.RejectMalformed, results[2].Reject)
	require.Contains(t, results[2].Detail, "line 4")
	require.Equal(t, normalize.RejectMalformed, results[3].Reject)

	out.Reset()
	require.NoError(t, run(t, a, "rejects"))
	listing := out.String()
	require.Contains(t, listing, "m2")
	require.Contains(t, listing, "unresolved_project")
	require.Contains(t, listing, "m3")

	out.Reset()
	require.NoError(t, run(t, a, "rejects", "--reason", normalize.RejectMalformed))
	require.NotContains(t, out.String(), "m2")
	require.Contains(t, out.String(), "m3")
}

func TestClassifyWithoutRejectLog(t *testing.T) {
	a, out := testApp(t, `{"id":"m2","content":"had lunch"}`)
	require.NoError(t, run(t, a, "classify", "--no-reject-log"))
	require.Len(t, decodeResults(t, out), 1)

	out.Reset()
	require.NoError(t, run(t, a, "rejects"))
	require.Equal(t, "no rejects\n", out.String())
}

func TestClassifyMissingFile(t *testing.T) {
	a, _ := testApp(t, "")
	err := run(t, a, "classify", "--file", filepath.Join(t.TempDir(), "missing.jsonl"))
	require.ErrorContains(t, err, "open input")
}

func TestCollectGitDryRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "habit-tracker")
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{"https://github.com/neo/habit-tracker.git"}})
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))
	_, err = wt.Add("main.go")
	require.NoError(t, err)
	_, err = wt.Commit("Add streak counter", &git.CommitOptions{
		Author: &object.Signature{Name: "Neo", Email: "neo@example.com", When: time.Now().Add(-time.Hour)},
	})
	require.NoError(t, err)

	a, out := testApp(t, "")
	require.NoError(t, run(t, a, "collect", "git", "--repo", dir, "--since", "24h", "--dry-run"))

	results := decodeResults(t, out)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Record)
	require.Equal(t, "Habit Tracker", results[0].Record.ProjectName)
	require.Equal(t, normalize.TypeGitCommit, results[0].Record.ActivityType)
	require.Equal(t, "Add streak counter", results[0].Record.Description)
}

func TestCheckpointStoreBackend(t *testing.T) {
	a, _ := testApp(t, "")
	a.cfg.SyncCheckpointBackend = "etcd"
	_, _, err := a.checkpointStore(nil)
	require.ErrorContains(t, err, "unknown checkpoint backend")
}

func TestNormalizeProjectsPlanAndApply(t *testing.T) {
	store := &fakeProjects{counts: []domain.ProjectCount{
		{ProjectName: "FlowState AI", Activities: 12},
		{ProjectName: "flowstate-ai-github", Activities: 3},
		{ProjectName: "Unknown Project", Activities: 1},
	}}
	normalizer := domain.NewProjectNormalizer(store, nil)

	a, out := testApp(t, "")
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())

	require.NoError(t, a.normalizeProjects(cmd, normalizer, false))
	require.Contains(t, out.String(), "flowstate-ai-github")
	require.Contains(t, out.String(), "dry run")
	require.Contains(t, out.String(), `not a project: "Unknown Project"`)
	require.Empty(t, store.renamed)

	out.Reset()
	require.NoError(t, a.normalizeProjects(cmd, normalizer, true))
	require.Equal(t, []string{"flowstate-ai-github"}, store.renamed)
	require.Contains(t, out.String(), `renamed "flowstate-ai-github" -> "FlowState AI" (3 rows)`)
}

type fakeProjects struct {
	counts  []domain.ProjectCount
	renamed []string
}

func (f *fakeProjects) DistinctProjects(context.Context) ([]domain.ProjectCount, error) {
	return f.counts, nil
}

func (f *fakeProjects) RenameProject(_ context.Context, from, _ string) (int64, error) {
	f.renamed = append(f.renamed, from)
	for _, c := range f.counts {
		if c.ProjectName == from {
			return int64(c.Activities), nil
		}
	}
	return 0, nil
}
