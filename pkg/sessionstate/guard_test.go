package sessionstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuards(t *testing.T) {
	admin := &User{ID: "u-2", Role: "admin"}
	customer := &User{ID: "u-1", Role: "customer"}

	unknown := State{Status: StatusUnknown}
	anonymous := State{Status: StatusAnonymous}
	asAdmin := State{Status: StatusAuthenticated, User: admin}
	asCustomer := State{Status: StatusAuthenticated, User: customer}

	tests := []struct {
		name  string
		guard Guard
		state State
		want  Decision
	}{
		{"auth waits while unknown", RequireAuthenticated("/login"), unknown, Decision{Outcome: Wait}},
		{"auth redirects anonymous", RequireAuthenticated("/login"), anonymous, Decision{Outcome: Redirect, Target: "/login"}},
		{"auth allows signed in", RequireAuthenticated("/login"), asCustomer, Decision{Outcome: Allow}},
		{"role waits while unknown", RequireRole("/403", "admin"), unknown, Decision{Outcome: Wait}},
		{"role redirects anonymous", RequireRole("/403", "admin"), anonymous, Decision{Outcome: Redirect, Target: "/403"}},
		{"role redirects wrong role", RequireRole("/403", "admin"), asCustomer, Decision{Outcome: Redirect, Target: "/403"}},
		{"role allows matching role", RequireRole("/403", "admin", "staff"), asAdmin, Decision{Outcome: Allow}},
		{"anonymous page allows anonymous", RequireAnonymous("/"), anonymous, Decision{Outcome: Allow}},
		{"anonymous page redirects signed in", RequireAnonymous("/"), asAdmin, Decision{Outcome: Redirect, Target: "/"}},
		{"anonymous page waits while unknown", RequireAnonymous("/"), unknown, Decision{Outcome: Wait}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.guard(tt.state))
		})
	}
}

func TestEvaluate_FirstNonAllowWins(t *testing.T) {
	s := State{Status: StatusAuthenticated, User: &User{Role: "customer"}}

	d := Evaluate(s, RequireAuthenticated("/login"), RequireRole("/403", "admin"))
	assert.Equal(t, Decision{Outcome: Redirect, Target: "/403"}, d)
	assert.False(t, d.Allowed())

	assert.True(t, Evaluate(s).Allowed())
	assert.True(t, Evaluate(s, RequireAuthenticated("/login")).Allowed())
}

func TestProvider_Check(t *testing.T) {
	s := new(mockSession)
	p := New(s)

	assert.Equal(t, Wait, p.Check(RequireAuthenticated("/login")).Outcome)
}
