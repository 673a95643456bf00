package session

import (
	"testing"

	"github.com/karyven/peerchat/internal/domain"
)

func TestResolveRole(t *testing.T) {
	cases := []struct {
		name      string
		mode      domain.Mode
		self      domain.TransportID
		partner   domain.TransportID
		initiator bool
		want      domain.Role
	}{
		{"random lower id calls", domain.ModeRandom, "aaa", "bbb", false, domain.RoleCaller},
		{"random higher id answers", domain.ModeRandom, "bbb", "aaa", false, domain.RoleReceiver},
		{"random ignores initiator flag", domain.ModeRandom, "bbb", "aaa", true, domain.RoleReceiver},
		{"direct initiator calls", domain.ModeDirect, "zzz", "aaa", true, domain.RoleCaller},
		{"direct non-initiator answers", domain.ModeDirect, "aaa", "zzz", false, domain.RoleReceiver},
		{"direct lower id does not override", domain.ModeDirect, "aaa", "zzz", false, domain.RoleReceiver},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveRole(tc.mode, tc.self, tc.partner, tc.initiator)
			if got != tc.want {
				t.Errorf("ResolveRole(%s, %s, %s, %v) = %s, want %s",
					tc.mode, tc.self, tc.partner, tc.initiator, got, tc.want)
			}
		})
	}
}

func TestResolveRoleComplementary(t *testing.T) {
	a := ResolveRole(domain.ModeRandom, "p1", "p2", false)
	b := ResolveRole(domain.ModeRandom, "p2", "p1", false)
	if a == b {
		t.Fatalf("both endpoints resolved %s", a)
	}
}
