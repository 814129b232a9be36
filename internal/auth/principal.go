package auth

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidSession = errors.New("session is invalid or expired")

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleStaff  Role = "staff"
	RoleViewer Role = "viewer"
)

type Permission string

const (
	PermCustomersRead  Permission = "customers.read"
	PermCustomersWrite Permission = "customers.write"
	PermRecordsWrite   Permission = "records.write"
	PermImportsWrite   Permission = "imports.write"
	PermReconcile      Permission = "customers.reconcile"
)

var rolePermissions = map[Role][]Permission{
	RoleAdmin:  {PermCustomersRead, PermCustomersWrite, PermRecordsWrite, PermImportsWrite, PermReconcile},
	RoleStaff:  {PermCustomersRead, PermCustomersWrite, PermRecordsWrite, PermImportsWrite},
	RoleViewer: {PermCustomersRead},
}

func ParseRole(value string) (Role, bool) {
	role := Role(value)
	_, ok := rolePermissions[role]
	return role, ok
}

func (r Role) Can(p Permission) bool {
	for _, granted := range rolePermissions[r] {
		if granted == p {
			return true
		}
	}
	return false
}

// Principal is the signed-in user behind a live session.
type Principal struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
	Email     string
	FullName  string
	Role      Role
	CSRFToken string
	ExpiresAt time.Time
}
