package normalize

import "strings"

var webhookTypes = map[string]string{
	"push":         TypeGitPush,
	"pull_request": TypePullRequest,
	"issues":       TypeIssueManagement,
	"create":       TypeGitCreate,
	"delete":       TypeGitDelete,
}

type keywordRule struct {
	keywords     []string
	activityType string
}

// Evaluated in order; the first rule with a matching keyword wins.
var keywordRules = []keywordRule{
	{keywords: []string{"fix", "bug", "error"}, activityType: TypeDebugging},
	{keywords: []string{"deploy", "build"}, activityType: TypeDeployment},
	{keywords: []string{"test"}, activityType: TypeTesting},
	{keywords: []string{"doc", "readme"}, activityType: TypeDocumentation},
}

// Classifier assigns an activity type to a raw record.
type Classifier struct{}

// NewClassifier builds a Classifier.
func NewClassifier() Classifier {
	return Classifier{}
}

// Classify returns the explicit hint, the origin default, or the keyword scan result.
func (Classifier) Classify(raw RawInputRecord) string {
	if explicit := raw.metaString("activity_type"); explicit != "" {
		return explicit
	}

	switch raw.kind() {
	case KindBrowser:
		return TypeBrowserActivity
	case KindWebhook:
		if raw.Webhook != nil {
			if t, ok := webhookTypes[strings.ToLower(strings.TrimSpace(raw.Webhook.Event))]; ok {
				return t
			}
		}
		return TypeGitHubActivity
	case KindGit:
		return TypeGitCommit
	}

	return classifyText(raw.text())
}

func classifyText(text string) string {
	lower := strings.ToLower(text)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.activityType
			}
		}
	}
	return TypeDevelopment
}
