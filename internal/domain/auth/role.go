// Package auth models who is acting on the point of sale and what each role
// may do.
package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// Role is the closed set of clinic roles.
type Role uint8

const (
	roleUnknown Role = iota
	// RoleAdmin manages the clinic.
	RoleAdmin
	// RoleClient is a pet owner paying for their own appointments.
	RoleClient
	// RoleProfessional is a veterinarian or groomer.
	RoleProfessional
	// RoleReceptionist runs the front desk and the point of sale.
	RoleReceptionist
)

// Roles lists every valid role.
var Roles = []Role{RoleAdmin, RoleClient, RoleProfessional, RoleReceptionist}

var roleNames = map[Role]string{
	RoleAdmin:        "admin",
	RoleClient:       "client",
	RoleProfessional: "professional",
	RoleReceptionist: "receptionist",
}

// ErrUnknownRole is returned when parsing an unrecognised role name.
var ErrUnknownRole = errors.New("unknown role")

// ParseRole converts a stored role name into a Role.
func ParseRole(s string) (Role, error) {
	for r, name := range roleNames {
		if name == s {
			return r, nil
		}
	}
	return roleUnknown, errors.Wrapf(ErrUnknownRole, "%q", s)
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// Capabilities is what a role is allowed to do.
type Capabilities struct {
	// SelectAnyPayer allows charging any client.
	SelectAnyPayer bool
	// SelectSelfAsPayer allows charging only the principal's own subject.
	SelectSelfAsPayer bool
	// RunPOS allows building carts and submitting sales.
	RunPOS bool
	// PayAppointments allows starting appointment payments. Clients are
	// further restricted to their own appointments.
	PayAppointments bool
	// ViewAppointments allows reading the appointment schedule.
	ViewAppointments bool
}

// capabilities is the dispatch table; every Role must have an entry.
var capabilities = map[Role]Capabilities{
	RoleAdmin: {
		SelectAnyPayer:   true,
		RunPOS:           true,
		PayAppointments:  true,
		ViewAppointments: true,
	},
	RoleReceptionist: {
		SelectAnyPayer:   true,
		RunPOS:           true,
		PayAppointments:  true,
		ViewAppointments: true,
	},
	RoleProfessional: {
		ViewAppointments: true,
	},
	RoleClient: {
		SelectSelfAsPayer: true,
		PayAppointments:   true,
		ViewAppointments:  true,
	},
}

// Capabilities returns the capabilities of r. Unknown roles get none.
func (r Role) Capabilities() Capabilities {
	return capabilities[r]
}

// ErrForbidden is returned when a principal lacks a capability.
var ErrForbidden = errors.New("forbidden")

// Principal is the authenticated actor of a request.
type Principal struct {
	KeyID     string
	Name      string
	Role      Role
	SubjectID string
}

// CanSelectPayer reports whether p may charge payerID.
func (p Principal) CanSelectPayer(payerID string) bool {
	caps := p.Role.Capabilities()
	switch {
	case caps.SelectAnyPayer:
		return true
	case caps.SelectSelfAsPayer:
		return payerID != "" && payerID == p.SubjectID
	default:
		return false
	}
}

// CanPayFor reports whether p may pay an appointment owned by clientID.
func (p Principal) CanPayFor(clientID string) bool {
	if !p.Role.Capabilities().PayAppointments {
		return false
	}
	if p.Role == RoleClient {
		return clientID == p.SubjectID
	}
	return true
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom extracts the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
