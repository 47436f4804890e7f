// Package gitlog turns local git history into raw activity records.
package gitlog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"example.com/flowstate/internal/normalize"
)

// DefaultIgnore lists paths whose changes alone do not count as work.
var DefaultIgnore = []string{"**/*.lock", "**/package-lock.json", "**/go.sum", "**/.DS_Store"}

// Collector reads commits from one repository.
type Collector struct {
	path    string
	ignore  []string
	machine string
	limit   int
}

// Option configures a Collector.
type Option func(*Collector)

// WithIgnore replaces the ignore globs. Patterns are matched against
// slash-separated paths relative to the repository root.
func WithIgnore(patterns []string) Option {
	return func(c *Collector) {
		c.ignore = patterns
	}
}

// WithMachine sets the machine recorded on every commit.
func WithMachine(machine string) Option {
	return func(c *Collector) {
		c.machine = machine
	}
}

// WithLimit caps the number of records returned.
func WithLimit(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.limit = n
		}
	}
}

// New validates the ignore globs and builds a collector for the repository at path.
func New(path string, opts ...Option) (*Collector, error) {
	c := &Collector{path: path, ignore: DefaultIgnore, limit: 500}
	for _, opt := range opts {
		opt(c)
	}
	for _, pattern := range c.ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid ignore pattern %q", pattern)
		}
	}
	return c, nil
}

// Collect returns one raw record per commit on HEAD authored at or after since,
// newest first.
func (c *Collector) Collect(ctx context.Context, since time.Time) ([]normalize.RawInputRecord, error) {
	repo, err := git.PlainOpenWithOptions(c.path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", c.path, err)
	}

	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	root := c.path
	if wt, err := repo.Worktree(); err == nil {
		root = wt.Filesystem.Root()
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	base := map[string]any{
		"directory": root,
	}
	if head.Name().IsBranch() {
		base["branch"] = head.Name().Short()
	}
	if remote := originURL(repo); remote != "" {
		base["git_remote"] = remote
	}
	if c.machine != "" {
		base["machine"] = c.machine
	}

	opts := &git.LogOptions{From: head.Hash()}
	if !since.IsZero() {
		opts.Since = &since
	}
	iter, err := repo.Log(opts)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var records []normalize.RawInputRecord
	err = iter.ForEach(func(commit *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(records) >= c.limit {
			return storer.ErrStop
		}
		skip, err := c.onlyIgnored(commit)
		if err != nil {
			return err
		}
		if skip {
			return nil
		}
		records = append(records, c.record(commit, base))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Collector) record(commit *object.Commit, base map[string]any) normalize.RawInputRecord {
	meta := make(map[string]any, len(base)+3)
	for k, v := range base {
		meta[k] = v
	}
	hash := commit.Hash.String()
	meta["commit"] = hash
	meta["author"] = commit.Author.Name
	meta["author_email"] = commit.Author.Email

	return normalize.RawInputRecord{
		ID:        hash,
		Kind:      normalize.KindGit,
		Content:   strings.TrimSpace(commit.Message),
		Metadata:  meta,
		Timestamp: commit.Author.When.UTC(),
	}
}

// onlyIgnored reports whether every path touched by the commit matches an ignore glob.
func (c *Collector) onlyIgnored(commit *object.Commit) (bool, error) {
	if len(c.ignore) == 0 {
		return false, nil
	}
	stats, err := commit.Stats()
	if err != nil {
		return false, fmt.Errorf("diff stats for %s: %w", commit.Hash, err)
	}
	if len(stats) == 0 {
		return false, nil
	}
	for _, st := range stats {
		if !c.ignored(st.Name) {
			return false, nil
		}
	}
	return true, nil
}

func (c *Collector) ignored(path string) bool {
	path = filepath.ToSlash(path)
	for _, pattern := range c.ignore {
		if match, _ := doublestar.Match(pattern, path); match {
			return true
		}
	}
	return false
}

func originURL(repo *git.Repository) string {
	remote, err := repo.Remote(git.DefaultRemoteName)
	if err != nil {
		return ""
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return ""
	}
	return urls[0]
}
