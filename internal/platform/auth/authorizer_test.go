package auth

import "testing"

func TestRoleAuthorizer(t *testing.T) {
	az := RoleAuthorizer{}

	tests := []struct {
		name    string
		actor   Actor
		ws      string
		action  string
		allowed bool
	}{
		{
			name:    "cross workspace denied",
			actor:   Actor{ID: "u1", WorkspaceID: "ws_a", Role: "owner"},
			ws:      "ws_b",
			action:  ActionReplayEvent,
			allowed: false,
		},
		{
			name:    "member cannot replay",
			actor:   Actor{ID: "u1", WorkspaceID: "ws_a", Role: "member"},
			ws:      "ws_a",
			action:  ActionReplayEvent,
			allowed: false,
		},
		{
			name:    "member can view cases",
			actor:   Actor{ID: "u1", WorkspaceID: "ws_a", Role: "member"},
			ws:      "ws_a",
			action:  ActionViewCases,
			allowed: true,
		},
		{
			name:    "operator can run worker",
			actor:   Actor{ID: "u1", WorkspaceID: "ws_a", Role: "operator"},
			ws:      "ws_a",
			action:  ActionRunWorker,
			allowed: true,
		},
		{
			name:    "unscoped service token allowed",
			actor:   Actor{ID: "tok1", WorkspaceID: "ws_a", Service: true},
			ws:      "ws_a",
			action:  ActionRunReconciliation,
			allowed: true,
		},
		{
			name:    "scoped service token limited",
			actor:   Actor{ID: "tok1", WorkspaceID: "ws_a", Service: true, Scopes: []string{ActionRunWorker}},
			ws:      "ws_a",
			action:  ActionRunReconciliation,
			allowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := az.Can(tt.actor, tt.ws, tt.action); got != tt.allowed {
				t.Errorf("Can() = %v, want %v", got, tt.allowed)
			}
		})
	}
}
