package secrets

import (
	"github.com/goliatone/go-router"
)

var TemplateUserKey = "current_user"

// GuestDisplayName is what the secrets page shows when no principal is
// attached to the request.
var GuestDisplayName = "Guest"

// TemplateHelpers returns a map of helper functions and data that the
// view engine exposes globally to templates.
//
// In templates, you can then use:
//
//	{% if current_user %}
//	{{ display_name(current_user) }}
func TemplateHelpers() map[string]any {
	return map[string]any{
		"is_authenticated": isAuthenticated,
		"display_name":     displayName,
	}
}

// MergeTemplateData merges the per-request template globals, including
// the current user injected by the JWT middleware, into the view data.
func MergeTemplateData(ctx router.Context, data router.ViewContext) router.ViewContext {
	if data == nil {
		data = router.ViewContext{}
	}

	if user, ok := GetTemplateUser(ctx, TemplateUserKey); ok {
		if _, exists := data[TemplateUserKey]; !exists {
			data[TemplateUserKey] = user
		}
	}

	if _, exists := data["username"]; !exists {
		data["username"] = displayName(data[TemplateUserKey])
	}

	return data
}

// GetTemplateUser is a convenience function to extract user data from
// router context for template usage.
func GetTemplateUser(ctx router.Context, userKey string) (any, bool) {
	if userKey == "" {
		userKey = TemplateUserKey
	}

	user := ctx.Locals(userKey)
	return user, user != nil
}

// isAuthenticated checks if the provided user object is not nil
func isAuthenticated(user any) bool {
	if user == nil {
		return false
	}

	switch u := user.(type) {
	case *User:
		return u != nil
	case User:
		return true
	case AuthClaims:
		return u != nil && u.UserID() != ""
	case map[string]any:
		// Handle JSON-converted user objects
		return len(u) > 0
	default:
		return false
	}
}

// displayName resolves what the pages call the visitor; anonymous
// requests render as the guest name.
func displayName(user any) string {
	switch u := user.(type) {
	case *User:
		if u != nil && u.Username != "" {
			return u.Username
		}
	case User:
		if u.Username != "" {
			return u.Username
		}
	case map[string]any:
		if name, ok := u["username"].(string); ok && name != "" {
			return name
		}
	}
	return GuestDisplayName
}
