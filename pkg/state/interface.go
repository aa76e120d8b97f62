package state

import "github.com/google/uuid"

type Manager interface {
	// --- Connection Lifecycle ---
	// Admit registers a connection under its verified identity. Admission is
	// unconditional; identity verification happens upstream at the upgrade.
	Admit(t Transport, identity Identity) *Connection
	// Retire removes a connection from every index. Idempotent.
	Retire(connID uuid.UUID) error
	Get(connID uuid.UUID) (*Connection, bool)

	// --- Categorization Lookups ---
	AllConnections() []*Connection
	Admins() []*Connection
	CompanyConnections(companyID string) []*Connection
	DriverConnection(driverID string) (*Connection, bool)

	// --- Per-user accounting (connection limiter) ---
	UserConnectionCount(userID string) int
	OldestUserConnection(userID string) (*Connection, bool)

	// --- Room Membership ---
	// Subscribe adds a connection to a room, creating the room if it doesn't exist.
	Subscribe(connID uuid.UUID, room string) error
	// Unsubscribe removes the membership; an empty room is removed entirely.
	Unsubscribe(connID uuid.UUID, room string) error
	RoomConnections(room string) []*Connection

	// --- Stats ---
	Snapshot() Snapshot
}
