package types

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to SessionStatus
		want     bool
	}{
		{StatusCreating, StatusReady, true},
		{StatusCreating, StatusError, true},
		{StatusReady, StatusRunning, true},
		{StatusRunning, StatusPaused, true},
		{StatusPaused, StatusRunning, true},
		{StatusStopped, StatusDeleted, true},
		{StatusDeleted, StatusRunning, false},
		{StatusError, StatusReady, false},
		{StatusStopped, StatusRunning, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestHasBinding(t *testing.T) {
	bound := []SessionStatus{StatusReady, StatusRunning, StatusPaused}
	unbound := []SessionStatus{StatusCreating, StatusStopped, StatusDeleted, StatusError}

	for _, s := range bound {
		if !s.HasBinding() {
			t.Errorf("status %s should require a binding", s)
		}
	}
	for _, s := range unbound {
		if s.HasBinding() {
			t.Errorf("status %s should not require a binding", s)
		}
	}
}
