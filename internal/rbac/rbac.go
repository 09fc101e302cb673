package rbac

type Role string
type Action string

const (
	RoleAnonymous Role = "anonymous"
	RoleCitizen   Role = "citizen"
	RoleExpert    Role = "expert"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionVote    Action = "vote"
	ActionPropose Action = "propose"
	ActionCommit  Action = "commit"
	ActionReview  Action = "review"
	ActionMerge   Action = "merge"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleExpert:
		return action == ActionRead || action == ActionComment || action == ActionVote ||
			action == ActionPropose || action == ActionCommit || action == ActionReview
	case RoleCitizen:
		return action == ActionRead || action == ActionComment || action == ActionVote
	case RoleAnonymous:
		return action == ActionRead
	default:
		return false
	}
}

// FromFlags derives the effective role from the user table flags.
func FromFlags(isExpert, isAdmin bool) Role {
	switch {
	case isAdmin:
		return RoleAdmin
	case isExpert:
		return RoleExpert
	default:
		return RoleCitizen
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleCitizen, RoleExpert, RoleAdmin:
		return Role(role)
	default:
		return RoleAnonymous
	}
}

// SeesPrivate reports whether the role may read every private proposal,
// not only the caller's own.
func SeesPrivate(role Role) bool {
	return role == RoleAdmin
}
