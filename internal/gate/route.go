package gate

import "strings"

type RouteClass string

const (
	RouteProtected RouteClass = "protected"
	RouteAuthOnly  RouteClass = "auth_only"
	RoutePublic    RouteClass = "public"
)

// Redirect targets.
const (
	PathLogin       = "/login"
	PathVerifyEmail = "/verify-email"
	PathPortal      = "/dcf"
)

var protectedPrefixes = []string{"/dashboard", "/dcf", "/profile"}

var authOnlyPaths = map[string]struct{}{
	"/login":  {},
	"/signup": {},
}

// ClassifyRoute maps a request path onto its route class. Protected routes
// match by prefix, auth-only routes match exactly.
func ClassifyRoute(path string) RouteClass {
	for _, prefix := range protectedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return RouteProtected
		}
	}
	if _, ok := authOnlyPaths[path]; ok {
		return RouteAuthOnly
	}
	return RoutePublic
}
