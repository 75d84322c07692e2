package auth

// Actions gated by the authorizer. The delivery core never looks at plans or
// billing directly; it only asks this predicate.
const (
	ActionReplayEvent      = "replay_event"
	ActionRunWorker        = "run_worker"
	ActionRunHealthCheck   = "run_health_check"
	ActionRunReconciliation = "run_reconciliation"
	ActionManageTargets    = "manage_targets"
	ActionResolveCase      = "resolve_case"
	ActionViewCases        = "view_cases"
)

// Actor is whoever triggered an operation: an interactive user or a service
// token. Both reach identical business logic.
type Actor struct {
	ID          string
	WorkspaceID string
	Role        string
	Service     bool
	Scopes      []string
}

// Authorizer is the single narrow capability check the core consumes. The
// surrounding shell owns roles, plans and entitlements.
type Authorizer interface {
	Can(actor Actor, workspaceID, action string) bool
}

// RoleAuthorizer is the default implementation: service actors are trusted
// for their own workspace (the token was already scoped at issue time);
// interactive users need membership plus a write role for mutating actions.
type RoleAuthorizer struct{}

var writeActions = map[string]bool{
	ActionReplayEvent:       true,
	ActionRunWorker:         true,
	ActionRunHealthCheck:    true,
	ActionRunReconciliation: true,
	ActionManageTargets:     true,
	ActionResolveCase:       true,
}

func (RoleAuthorizer) Can(actor Actor, workspaceID, action string) bool {
	if actor.WorkspaceID != workspaceID {
		return false
	}
	if actor.Service {
		if len(actor.Scopes) == 0 {
			return true
		}
		for _, s := range actor.Scopes {
			if s == action || s == "*" {
				return true
			}
		}
		return false
	}
	if !writeActions[action] {
		return true
	}
	switch actor.Role {
	case "owner", "admin", "operator":
		return true
	}
	return false
}
