package models

import (
	"strings"
	"time"
)

// Roles recognized by the access-control checks. Other role strings are
// tolerated and treated as non-admin.
const (
	RoleSuperAdmin = "SUPER_ADMIN"
	RoleAdmin      = "ADMIN"
	RoleMobileUser = "MOBILE_USER"
)

type User struct {
	ID             string
	Username       string
	PasswordHash   string
	Role           string
	UserType       string
	FullName       string
	Phone          string
	AllowedModules []string

	// Subscription window; a nil bound is unconstrained.
	SubscriptionStart *time.Time
	SubscriptionEnd   *time.Time

	IsActive  bool
	IsLocked  bool
	IsDeleted bool

	// Single-active-device binding. Empty ActiveDeviceID means unbound.
	ActiveDeviceID        string
	ActiveDeviceMACHash   string
	ActiveDeviceLastLogin *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAdmin reports whether the user holds an administrative role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleSuperAdmin || u.Role == RoleAdmin
}

// IsSuperUser reports whether the user bypasses device binding: either the
// SUPER_ADMIN role or the configured reserved username (case-insensitive).
func (u *User) IsSuperUser(reservedUsername string) bool {
	if u.Role == RoleSuperAdmin {
		return true
	}
	return reservedUsername != "" &&
		strings.EqualFold(strings.TrimSpace(u.Username), strings.TrimSpace(reservedUsername))
}

// SubscriptionAllows reports whether now falls inside the user's subscription
// window. Missing bounds are unconstrained.
func (u *User) SubscriptionAllows(now time.Time) bool {
	if u.SubscriptionStart != nil && now.Before(*u.SubscriptionStart) {
		return false
	}
	if u.SubscriptionEnd != nil && now.After(*u.SubscriptionEnd) {
		return false
	}
	return true
}

// EffectiveUserType mirrors the mobile client contract: an explicit user_type
// wins, otherwise it is derived from the role.
func (u *User) EffectiveUserType() string {
	if u.UserType != "" {
		return u.UserType
	}
	if u.Role == RoleMobileUser {
		return RoleMobileUser
	}
	return RoleAdmin
}
