package auth

// Action names something an authenticated subject wants to do.
type Action uint8

// Actions covered by Allow.
const (
	ActionListUsers Action = iota + 1
	ActionViewUser
	ActionCreateUser
	ActionUpdateProfile
	ActionChangeRole
	ActionSetActive
	ActionListAllIncidents
	ActionViewUserIncidents
	ActionCreateIncident
	ActionAttachSolution
	ActionAmendObservations
	ActionViewIncident
	ActionViewAuditLog
)

var actionNames = map[Action]string{
	ActionListUsers:         "list_users",
	ActionViewUser:          "view_user",
	ActionCreateUser:        "create_user",
	ActionUpdateProfile:     "update_profile",
	ActionChangeRole:        "change_role",
	ActionSetActive:         "set_active",
	ActionListAllIncidents:  "list_all_incidents",
	ActionViewUserIncidents: "view_user_incidents",
	ActionCreateIncident:    "create_incident",
	ActionAttachSolution:    "attach_solution",
	ActionAmendObservations: "amend_observations",
	ActionViewIncident:      "view_incident",
	ActionViewAuditLog:      "view_audit_log",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// Subject is the authenticated actor, resolved fresh for every request.
type Subject struct {
	ID   string
	Role Role
}

// Resource describes the target of an action.
//
// For user actions OwnerID and OwnerRole describe the target identity. For
// incident actions they describe the incident's owner. RequestedRole is only
// read by ActionChangeRole.
type Resource struct {
	OwnerID       string
	OwnerRole     Role
	RequestedRole Role
}

// Allow is the single authorisation decision for every user and incident
// action. It is pure: the caller must load the current roles before calling,
// so supervisor scoping is evaluated against live data on every access.
//
// Ownership always wins over role for incident mutations: nobody, admins
// included, attaches a solution to or amends another identity's incident.
func Allow(actor Subject, action Action, res Resource) bool {
	if actor.ID == "" || !actor.Role.Valid() {
		return false
	}
	self := res.OwnerID != "" && res.OwnerID == actor.ID

	switch action {
	case ActionListUsers, ActionListAllIncidents:
		return actor.Role == RoleAdmin || actor.Role == RoleSupervisor

	case ActionViewUser, ActionUpdateProfile, ActionViewUserIncidents:
		if self {
			return true
		}
		return managesTarget(actor.Role, res.OwnerRole)

	case ActionCreateUser, ActionViewAuditLog:
		return actor.Role == RoleAdmin

	case ActionChangeRole:
		if !res.RequestedRole.Valid() {
			return false
		}
		switch actor.Role {
		case RoleAdmin:
			return !self
		case RoleSupervisor:
			return res.OwnerRole == RoleOperator && res.RequestedRole == RoleOperator
		default:
			return false
		}

	case ActionSetActive:
		if self {
			return false
		}
		return managesTarget(actor.Role, res.OwnerRole)

	case ActionCreateIncident:
		return actor.Role == RoleOperator && self

	case ActionAttachSolution, ActionAmendObservations:
		return self

	case ActionViewIncident:
		// Supervisors see operator-owned incidents only, not other supervisors'.
		if self {
			return true
		}
		return managesTarget(actor.Role, res.OwnerRole)

	default:
		return false
	}
}

// managesTarget reports whether role may act on an identity holding
// targetRole: admins manage everyone, supervisors manage operators only.
func managesTarget(role, targetRole Role) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleSupervisor:
		return targetRole == RoleOperator
	default:
		return false
	}
}
