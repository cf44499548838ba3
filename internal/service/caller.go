package service

import "gradebook_backend/internal/model"

// CallerRole is the capability the HTTP layer vouches for. Services check it
// instead of inspecting the user themselves.
type CallerRole string

const (
	RoleStudent    CallerRole = "student"
	RoleInstructor CallerRole = "instructor"
	RoleAdmin      CallerRole = "admin"
)

type Caller struct {
	UserID uint
	Role   CallerRole
}

// CallerRoleFor maps a token role claim to a caller role. Unknown roles get
// the least privilege.
func CallerRoleFor(r model.UserRole) CallerRole {
	switch r {
	case model.Teacher:
		return RoleInstructor
	case model.Admin:
		return RoleAdmin
	default:
		return RoleStudent
	}
}

func (c Caller) CanGrade() bool {
	return c.Role == RoleInstructor || c.Role == RoleAdmin
}
