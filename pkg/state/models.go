package state

import (
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of client roles the service categorizes by.
type Role int

const (
	RoleOther Role = iota
	RoleAdmin
	RoleCompanyOwner
	RoleCompanyEmployee
	RoleDriver
)

// ParseRole maps a token claim to a Role. Unknown values become RoleOther.
func ParseRole(s string) Role {
	switch s {
	case "admin":
		return RoleAdmin
	case "company_owner":
		return RoleCompanyOwner
	case "company_employee":
		return RoleCompanyEmployee
	case "driver":
		return RoleDriver
	default:
		return RoleOther
	}
}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleCompanyOwner:
		return "company_owner"
	case RoleCompanyEmployee:
		return "company_employee"
	case RoleDriver:
		return "driver"
	default:
		return "other"
	}
}

// Identity is the verified claim set a connection was admitted with.
type Identity struct {
	UserID    string
	Role      Role
	CompanyID string
	DriverID  string
	Name      string
	Email     string
}

// Transport is the write side of one live client connection.
type Transport interface {
	ID() uuid.UUID
	// Send queues a frame for delivery. It reports whether the transport
	// accepted the write; it says nothing about the remote peer.
	Send(message []byte) bool
	Close(err error)
	IsOpen() bool
}

// Connection is the registry's record of one admitted client.
type Connection struct {
	ID          uuid.UUID
	Transport   Transport
	Identity    Identity
	ConnectedAt time.Time
	Rooms       map[string]struct{} // guarded by the owning Manager
}

// Snapshot is a point-in-time view of the registry's counters.
type Snapshot struct {
	CurrentConnections int
	TotalConnections   int64
	ByRole             map[string]int
	CompaniesOnline    int
	DriversOnline      int
	StartedAt          time.Time
}
