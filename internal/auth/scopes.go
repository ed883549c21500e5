package auth

// OAuth scopes accepted by the analysis endpoints.
const (
	ScopeActivitySubmit = "activity:submit"
	ScopeActivityRead   = "activity:read"
)
