package domain

import (
	"context"
	"fmt"
	"sort"

	"example.com/flowstate/internal/normalize"
)

// ProjectStore exposes the project-level maintenance operations on the activity log.
type ProjectStore interface {
	DistinctProjects(ctx context.Context) ([]ProjectCount, error)
	RenameProject(ctx context.Context, from, to string) (int64, error)
}

// ProjectRename is one planned or applied merge of a project name into its canonical form.
type ProjectRename struct {
	From       string
	To         string
	Activities int
	Updated    int64
}

// ProjectNormalizer merges legacy project names into their canonical spelling.
type ProjectNormalizer struct {
	store  ProjectStore
	tables normalize.TableSource
}

// NewProjectNormalizer constructs a ProjectNormalizer.
func NewProjectNormalizer(store ProjectStore, tables normalize.TableSource) *ProjectNormalizer {
	if tables == nil {
		tables = normalize.StaticTables(nil)
	}
	return &ProjectNormalizer{store: store, tables: tables}
}

// Plan lists renames needed to bring every stored project name to canonical form.
// Names that do not normalize at all are returned separately and left untouched.
func (n *ProjectNormalizer) Plan(ctx context.Context) ([]ProjectRename, []ProjectCount, error) {
	projects, err := n.store.DistinctProjects(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list projects: %w", err)
	}

	resolver := normalize.NewResolver(n.tables.Current())
	var renames []ProjectRename
	var invalid []ProjectCount
	for _, p := range projects {
		canonical, ok := resolver.Normalize(p.ProjectName)
		if !ok {
			invalid = append(invalid, p)
			continue
		}
		if canonical == p.ProjectName {
			continue
		}
		renames = append(renames, ProjectRename{From: p.ProjectName, To: canonical, Activities: p.Activities})
	}

	sort.Slice(renames, func(i, j int) bool {
		if renames[i].To != renames[j].To {
			return renames[i].To < renames[j].To
		}
		return renames[i].From < renames[j].From
	})
	return renames, invalid, nil
}

// Apply executes the planned renames. It stops at the first failure and
// returns the renames applied so far.
func (n *ProjectNormalizer) Apply(ctx context.Context, renames []ProjectRename) ([]ProjectRename, error) {
	applied := make([]ProjectRename, 0, len(renames))
	for _, r := range renames {
		updated, err := n.store.RenameProject(ctx, r.From, r.To)
		if err != nil {
			return applied, fmt.Errorf("rename %q to %q: %w", r.From, r.To, err)
		}
		r.Updated = updated
		applied = append(applied, r)
	}
	return applied, nil
}
