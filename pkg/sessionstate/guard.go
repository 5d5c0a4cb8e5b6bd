package sessionstate

// Outcome is what a guard decides for a route.
type Outcome int

const (
	Allow Outcome = iota
	// Wait means the state is still unknown; render nothing yet.
	Wait
	Redirect
)

// Decision is a guard's verdict. Target is set for Redirect.
type Decision struct {
	Outcome Outcome
	Target  string
}

// Allowed reports whether the route may render.
func (d Decision) Allowed() bool { return d.Outcome == Allow }

// Guard maps a session state to a decision.
type Guard func(State) Decision

// RequireAuthenticated sends anonymous users to loginPath.
func RequireAuthenticated(loginPath string) Guard {
	return func(s State) Decision {
		switch s.Status {
		case StatusUnknown:
			return Decision{Outcome: Wait}
		case StatusAuthenticated:
			return Decision{Outcome: Allow}
		default:
			return Decision{Outcome: Redirect, Target: loginPath}
		}
	}
}

// RequireRole sends users lacking every one of roles to deniedPath.
func RequireRole(deniedPath string, roles ...string) Guard {
	return func(s State) Decision {
		if s.Status == StatusUnknown {
			return Decision{Outcome: Wait}
		}
		if s.HasRole(roles...) {
			return Decision{Outcome: Allow}
		}
		return Decision{Outcome: Redirect, Target: deniedPath}
	}
}

// RequireAnonymous sends signed-in users to homePath, for pages such as login.
func RequireAnonymous(homePath string) Guard {
	return func(s State) Decision {
		switch s.Status {
		case StatusUnknown:
			return Decision{Outcome: Wait}
		case StatusAuthenticated:
			return Decision{Outcome: Redirect, Target: homePath}
		default:
			return Decision{Outcome: Allow}
		}
	}
}

// Evaluate applies guards in order against s. The first decision that is
// not Allow wins.
func Evaluate(s State, guards ...Guard) Decision {
	for _, g := range guards {
		if d := g(s); d.Outcome != Allow {
			return d
		}
	}
	return Decision{Outcome: Allow}
}

// Check evaluates guards against the provider's current state.
func (p *Provider) Check(guards ...Guard) Decision {
	return Evaluate(p.State(), guards...)
}
