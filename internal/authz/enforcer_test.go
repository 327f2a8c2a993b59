package authz

import "testing"

func TestEnforcerRolePermissions(t *testing.T) {
	e, err := NewEnforcer()
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}

	tests := []struct {
		role, object, action string
		want                 bool
	}{
		{"doctor", "booking", "respond", true},
		{"establishment", "booking", "respond", false},
		{"establishment", "booking", "request", true},
		{"doctor", "booking", "request", false},
		{"doctor", "booking", "cancel", true},
		{"establishment", "booking", "cancel", true},
		{"establishment", "booking", "complete", true},
		{"doctor", "notification", "read", true},
		{"establishment", "urgent_request", "create", true},
		{"doctor", "urgent_request", "create", false},
		{"doctor", "urgent_request", "respond", true},
		{"admin", "email", "send", true},
		{"doctor", "email", "send", false},
		{"admin", "notification", "read", true},
		{"", "notification", "read", false},
		{"stranger", "booking", "read", false},
	}

	for _, tc := range tests {
		if got := e.Allowed(tc.role, tc.object, tc.action); got != tc.want {
			t.Errorf("Allowed(%q, %q, %q) = %v, want %v", tc.role, tc.object, tc.action, got, tc.want)
		}
	}
}

func TestLoadPolicyRejectsMalformedLines(t *testing.T) {
	e, err := NewEnforcer()
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}
	if err := loadPolicy(e.enforcer, "p, doctor, booking"); err == nil {
		t.Fatal("expected malformed policy line to fail")
	}
}
