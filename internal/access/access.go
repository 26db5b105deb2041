// Package access maps staff roles to the capabilities they grant inside a
// clinic.
package access

import (
	"context"
	"slices"

	"github.com/google/uuid"
)

type Role string

const (
	RoleOwner        Role = "owner"
	RoleAdmin        Role = "admin"
	RoleDoctor       Role = "doctor"
	RoleReceptionist Role = "receptionist"
	RoleFinancial    Role = "financial"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleDoctor, RoleReceptionist, RoleFinancial:
		return true
	}
	return false
}

type Capability string

const (
	ViewSchedule       Capability = "view_schedule"
	ManageAppointments Capability = "manage_appointments"
	ManageBlocks       Capability = "manage_blocks"
	ManageWorkingHours Capability = "manage_working_hours"
	ViewFinancial      Capability = "view_financial"
)

var capabilityRoles = map[Capability][]Role{
	ViewSchedule:       {RoleOwner, RoleAdmin, RoleDoctor, RoleReceptionist},
	ManageAppointments: {RoleOwner, RoleAdmin, RoleDoctor, RoleReceptionist},
	ManageBlocks:       {RoleOwner, RoleAdmin, RoleDoctor},
	ManageWorkingHours: {RoleOwner, RoleAdmin},
	ViewFinancial:      {RoleOwner, RoleAdmin, RoleFinancial},
}

// RolesFor returns the roles allowed to use c.
func RolesFor(c Capability) []Role {
	return slices.Clone(capabilityRoles[c])
}

// Principal is the authenticated staff member behind a request.
type Principal struct {
	UserID   string
	ClinicID uuid.UUID
	Roles    []Role
}

func (p Principal) HasRole(r Role) bool {
	return slices.Contains(p.Roles, r)
}

// Can reports whether any of the principal's roles grants c.
func Can(p Principal, c Capability) bool {
	for _, r := range capabilityRoles[c] {
		if p.HasRole(r) {
			return true
		}
	}
	return false
}

// CanInClinic additionally requires the principal to belong to clinicID.
func CanInClinic(p Principal, clinicID uuid.UUID, c Capability) bool {
	return p.ClinicID == clinicID && Can(p, c)
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
