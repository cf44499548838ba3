package model

// UserRole is the role claim carried in access tokens. Users themselves are
// managed by the identity service; this engine only sees their IDs.
type UserRole string

const (
	Student UserRole = "student"
	Teacher UserRole = "teacher"
	Admin   UserRole = "admin"
)
