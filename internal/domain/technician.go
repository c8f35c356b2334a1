package domain

import "time"

// Role represents a user's role.
type Role string

// Roles.
const (
	RoleTech    Role = "tech"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// roleRank orders roles for permission checks.
var roleRank = map[Role]int{
	RoleTech:    1,
	RoleManager: 2,
	RoleAdmin:   3,
}

// HasPermission reports whether the role meets the minimum required role.
func (r Role) HasPermission(min Role) bool {
	return roleRank[r] >= roleRank[min]
}

// Technician represents an on-call ladder participant.
//
// Availability and priority are read at ladder-resolution time with snapshot
// semantics: a technician going unavailable mid-escalation does not invalidate
// an attempt already in flight, only future ladder resolutions.
type Technician struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Phone     *string `json:"phone,omitempty"`
	Role      Role    `json:"role"`
	Available bool    `json:"available"`
	Active    bool    `json:"active"`
	SiteID    *string `json:"site_id,omitempty"`
	Priority  int     `json:"priority"`
	PushToken *string `json:"push_token,omitempty"`
	// NotificationsEnabled gates push delivery; voice remains the fallback.
	NotificationsEnabled bool      `json:"notifications_enabled"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Contactable reports whether the technician can receive push notifications.
func (t *Technician) Contactable() bool {
	return t.NotificationsEnabled && t.PushToken != nil && *t.PushToken != ""
}
