// Package gate holds the single decision table shared by every enforcement
// point that turns session and profile signals into allow or redirect.
package gate

type ProfileLookup string

const (
	ProfileFound       ProfileLookup = "found"
	ProfileNotFound    ProfileLookup = "not_found"
	StoreUnprovisioned ProfileLookup = "store_unprovisioned"
	LookupFailed       ProfileLookup = "lookup_failed"
)

// Degraded reports whether the lookup gave no usable answer, in which case
// email confirmation is the only remaining proof of a completed signup.
func (p ProfileLookup) Degraded() bool {
	return p == StoreUnprovisioned || p == LookupFailed
}

type Outcome string

const (
	Allow    Outcome = "allow"
	Redirect Outcome = "redirect"
)

type Signals struct {
	HasSession     bool
	EmailConfirmed bool
	Profile        ProfileLookup
	Route          RouteClass
}

type Decision struct {
	Outcome Outcome
	Target  string
}

func (d Decision) Allowed() bool {
	return d.Outcome == Allow
}

func allow() Decision {
	return Decision{Outcome: Allow}
}

func redirectTo(target string) Decision {
	return Decision{Outcome: Redirect, Target: target}
}

// Decide evaluates the gate table. It has no side effects; callers perform
// the lookups beforehand and the navigation afterwards.
func Decide(s Signals) Decision {
	switch s.Route {
	case RouteProtected:
		if !s.HasSession {
			return redirectTo(PathLogin)
		}
		switch {
		case s.Profile.Degraded():
			if !s.EmailConfirmed {
				return redirectTo(PathVerifyEmail)
			}
			return allow()
		case s.Profile == ProfileFound:
			return allow()
		default:
			return redirectTo(PathVerifyEmail)
		}

	case RouteAuthOnly:
		if !s.HasSession {
			return allow()
		}
		switch {
		case s.Profile.Degraded():
			if s.EmailConfirmed {
				return redirectTo(PathPortal)
			}
			return allow()
		case s.Profile == ProfileFound:
			return redirectTo(PathPortal)
		default:
			// Let the visitor finish signup.
			return allow()
		}
	}
	return allow()
}
