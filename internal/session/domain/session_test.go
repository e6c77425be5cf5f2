package domain

import "testing"

func TestSession_State(t *testing.T) {
	cases := []struct {
		verified, require bool
		want              State
	}{
		{false, false, StateActive},
		{false, true, State2FAPending},
		{true, true, State2FAVerified},
		{true, false, State2FAVerified},
	}
	for _, c := range cases {
		s := &Session{TwoFactorVerified: c.verified}
		if got := s.State(c.require); got != c.want {
			t.Errorf("State(verified=%v, require=%v) = %s, want %s", c.verified, c.require, got, c.want)
		}
	}
}

func TestSession_ViewFor(t *testing.T) {
	s := &Session{ID: "s1"}
	if !s.ViewFor("s1").IsCurrent {
		t.Error("ViewFor(own id).IsCurrent = false")
	}
	if s.ViewFor("s2").IsCurrent {
		t.Error("ViewFor(other id).IsCurrent = true")
	}
}
