package normalize

import (
	"net/url"
	"path"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ProjectSource names the resolver step that produced a project.
type ProjectSource string

const (
	ProjectFromMetadata   ProjectSource = "metadata"
	ProjectFromStructured ProjectSource = "structured"
	ProjectFromPattern    ProjectSource = "pattern"
	ProjectFromKeyword    ProjectSource = "keyword"
)

var stepConfidence = map[ProjectSource]float64{
	ProjectFromMetadata:   1.0,
	ProjectFromStructured: 0.9,
	ProjectFromPattern:    0.8,
	ProjectFromKeyword:    0.6,
}

// Resolution is a resolved canonical project.
type Resolution struct {
	Name       string
	Source     ProjectSource
	Confidence float64
}

// reserved first path segments on github.com that are not owners.
var githubReserved = map[string]struct{}{
	"settings": {}, "notifications": {}, "orgs": {}, "marketplace": {}, "explore": {},
	"topics": {}, "login": {}, "new": {}, "pulls": {}, "issues": {}, "search": {},
	"sponsors": {}, "features": {}, "codespaces": {},
}

// Resolver maps raw project hints to canonical project names.
type Resolver struct {
	tables *Tables
}

// NewResolver builds a Resolver over the given tables.
func NewResolver(t *Tables) Resolver {
	return Resolver{tables: t}
}

// Resolve applies the precedence chain and stops at the first accepted candidate.
func (r Resolver) Resolve(raw RawInputRecord) (Resolution, bool) {
	for _, key := range []string{"project_name", "project"} {
		if name, ok := r.Normalize(raw.metaString(key)); ok {
			return r.resolution(name, ProjectFromMetadata), true
		}
	}

	for _, hint := range structuredHints(raw) {
		if name, ok := r.Normalize(hint); ok {
			return r.resolution(name, ProjectFromStructured), true
		}
	}

	text := raw.text()
	if text == "" {
		return Resolution{}, false
	}

	prose := raw.prose()
	for _, re := range r.tables.textPatterns {
		match := re.FindStringSubmatch(prose)
		if match == nil {
			continue
		}
		if name, ok := r.Normalize(match[1]); ok {
			return r.resolution(name, ProjectFromPattern), true
		}
	}

	for _, kp := range r.tables.knownProjects {
		for _, re := range kp.patterns {
			if re.MatchString(text) {
				return r.resolution(kp.name, ProjectFromKeyword), true
			}
		}
	}
	return Resolution{}, false
}

func (r Resolver) resolution(name string, source ProjectSource) Resolution {
	return Resolution{Name: name, Source: source, Confidence: stepConfidence[source]}
}

// Normalize canonicalizes a raw project string. It returns false for empty,
// blocked, too-short, and stop-word candidates.
func (r Resolver) Normalize(candidate string) (string, bool) {
	candidate = strings.Trim(strings.TrimSpace(candidate), `'"`)
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", false
	}

	if canonical, found := r.tables.Alias(candidate); found {
		return canonical, canonical != ""
	}

	key := foldKey(candidate)
	if len([]rune(key)) < r.tables.minLength {
		return "", false
	}
	if _, stop := r.tables.stopWords[key]; stop {
		return "", false
	}

	words := strings.FieldsFunc(candidate, func(c rune) bool {
		return c == '-' || c == ' ' || c == '\t' || c == '\n'
	})
	if len(words) == 0 {
		return "", false
	}
	// Casers carry state, so each call gets its own.
	title := cases.Title(language.Und)
	for i, w := range words {
		words[i] = title.String(w)
	}
	return strings.Join(words, " "), true
}

// structuredHints lists source-specific hints in precedence order.
func structuredHints(raw RawInputRecord) []string {
	var hints []string
	if raw.Webhook != nil {
		if repo := strings.TrimSpace(raw.Webhook.Repository); repo != "" {
			hints = append(hints, repo)
		} else if full := strings.TrimSpace(raw.Webhook.RepositoryFull); full != "" {
			hints = append(hints, path.Base(full))
		}
	}
	if raw.Tab != nil {
		if repo := githubRepo(raw.Tab.URL); repo != "" {
			hints = append(hints, repo)
		}
	}
	if repo := githubRepo(raw.metaString("url")); repo != "" {
		hints = append(hints, repo)
	}
	if repo := remoteRepo(raw.metaString("git_remote")); repo != "" {
		hints = append(hints, repo)
	}
	if dir := raw.metaString("directory"); dir != "" {
		if base := path.Base(strings.ReplaceAll(strings.TrimRight(dir, `/\`), `\`, "/")); base != "." && base != "/" {
			hints = append(hints, base)
		}
	}
	return hints
}

// githubRepo extracts the repository segment of a github.com URL.
func githubRepo(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != "github.com" {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	if _, reserved := githubReserved[strings.ToLower(parts[0])]; reserved {
		return ""
	}
	return strings.TrimSuffix(parts[1], ".git")
}

// remoteRepo extracts the repository segment of an https, ssh or scp-style git remote.
func remoteRepo(remote string) string {
	remote = strings.TrimSpace(remote)
	remote = strings.TrimRight(remote, "/")
	remote = strings.TrimSuffix(remote, ".git")
	if remote == "" {
		return ""
	}
	idx := strings.LastIndexAny(remote, "/:")
	if idx < 0 {
		return remote
	}
	return remote[idx+1:]
}
