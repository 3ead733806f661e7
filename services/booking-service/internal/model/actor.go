package model

type Role string

const (
	RoleOwner    Role = "owner"
	RoleManager  Role = "manager"
	RoleStaff    Role = "staff"
	RoleCustomer Role = "customer"
	RoleSystem   Role = "system"
	RolePublic   Role = "public"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleManager, RoleStaff, RoleCustomer, RoleSystem, RolePublic:
		return true
	}
	return false
}

// Actor is the caller on whose behalf an operation runs.
type Actor struct {
	ID         string
	Role       Role
	BusinessID string
}

// Trusted actors operate the business itself and may bypass customer-facing policy checks.
func (a Actor) Trusted() bool {
	switch a.Role {
	case RoleOwner, RoleManager, RoleStaff, RoleSystem:
		return true
	}
	return false
}

func (a Actor) CanAccess(businessID string) bool {
	if a.Role == RoleSystem {
		return true
	}
	return a.BusinessID != "" && a.BusinessID == businessID
}

// Owns reports whether the actor is the appointment's customer or created it.
func (a Actor) Owns(appt Appointment) bool {
	return a.ID != "" && (appt.CustomerID == a.ID || appt.CreatedBy == a.ID)
}

// PublicActor is used for bookings committed through the unauthenticated flow.
func PublicActor(phone string) Actor {
	return Actor{ID: "public:" + phone, Role: RolePublic}
}
