package auth

// Known OAuth scopes accepted by the API.
const (
	ScopeActivitiesWrite = "activities:write"
	ScopeActivitiesRead  = "activities:read"
)

// CanRead reports whether the claims allow read access. Write implies read.
func CanRead(c *Claims) bool {
	return c.HasScope(ScopeActivitiesRead) || c.HasScope(ScopeActivitiesWrite)
}
