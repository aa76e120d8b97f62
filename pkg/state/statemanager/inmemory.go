package statemanager

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/CarlosdRojasC/envigo-realtime/pkg/state"
	"github.com/google/uuid"
)

type InMemoryManager struct {
	mu sync.RWMutex

	conns     map[uuid.UUID]*state.Connection
	admins    map[uuid.UUID]*state.Connection
	companies map[string]map[uuid.UUID]*state.Connection
	drivers   map[string]*state.Connection
	rooms     map[string]map[uuid.UUID]*state.Connection
	byUser    map[string]map[uuid.UUID]*state.Connection

	totalAdmitted int64
	startedAt     time.Time

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:     make(map[uuid.UUID]*state.Connection),
		admins:    make(map[uuid.UUID]*state.Connection),
		companies: make(map[string]map[uuid.UUID]*state.Connection),
		drivers:   make(map[string]*state.Connection),
		rooms:     make(map[string]map[uuid.UUID]*state.Connection),
		byUser:    make(map[string]map[uuid.UUID]*state.Connection),
		startedAt: time.Now(),
		logger:    logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) Admit(t state.Transport, identity state.Identity) *state.Connection {
	conn := &state.Connection{
		ID:          t.ID(),
		Transport:   t,
		Identity:    identity,
		ConnectedAt: time.Now(),
		Rooms:       make(map[string]struct{}),
	}

	var superseded state.Transport

	m.mu.Lock()
	m.conns[conn.ID] = conn
	m.totalAdmitted++

	if identity.UserID != "" {
		set, ok := m.byUser[identity.UserID]
		if !ok {
			set = make(map[uuid.UUID]*state.Connection)
			m.byUser[identity.UserID] = set
		}
		set[conn.ID] = conn
	}

	if identity.Role == state.RoleAdmin {
		m.admins[conn.ID] = conn
	}
	if identity.CompanyID != "" {
		set, ok := m.companies[identity.CompanyID]
		if !ok {
			set = make(map[uuid.UUID]*state.Connection)
			m.companies[identity.CompanyID] = set
		}
		set[conn.ID] = conn
	}
	if identity.Role == state.RoleDriver && identity.DriverID != "" {
		// At most one live connection per driver id. The previous transport
		// is closed explicitly rather than left dangling.
		if prev, ok := m.drivers[identity.DriverID]; ok {
			superseded = prev.Transport
		}
		m.drivers[identity.DriverID] = conn
	}
	m.mu.Unlock()

	if superseded != nil {
		m.logger.Info("Superseding driver connection",
			slog.String("driverID", identity.DriverID),
			slog.String("connID", conn.ID.String()),
		)
		superseded.Close(errors.New("superseded by a new driver connection"))
	}

	m.logger.Debug("Connection admitted",
		slog.String("connID", conn.ID.String()),
		slog.String("role", identity.Role.String()),
	)
	return conn
}

func (m *InMemoryManager) Retire(connID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		// already retired
		return nil
	}
	delete(m.conns, connID)
	delete(m.admins, connID)

	identity := conn.Identity
	if identity.UserID != "" {
		if set, ok := m.byUser[identity.UserID]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(m.byUser, identity.UserID)
			}
		}
	}
	if identity.CompanyID != "" {
		if set, ok := m.companies[identity.CompanyID]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(m.companies, identity.CompanyID)
			}
		}
	}
	if identity.DriverID != "" {
		// Only remove the entry if it still points at this connection; a
		// superseding connection may have replaced it already.
		if cur, ok := m.drivers[identity.DriverID]; ok && cur == conn {
			delete(m.drivers, identity.DriverID)
		}
	}
	for room := range conn.Rooms {
		m.leaveRoom(conn, room)
	}

	m.logger.Debug("Connection retired", slog.String("connID", connID.String()))
	return nil
}

func (m *InMemoryManager) Get(connID uuid.UUID) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

// --- Categorization Lookups ---

func (m *InMemoryManager) AllConnections() []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return collect(m.conns)
}

func (m *InMemoryManager) Admins() []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return collect(m.admins)
}

func (m *InMemoryManager) CompanyConnections(companyID string) []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return collect(m.companies[companyID])
}

func (m *InMemoryManager) DriverConnection(driverID string) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.drivers[driverID]
	return conn, ok
}

// --- Per-user accounting ---

func (m *InMemoryManager) UserConnectionCount(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[userID])
}

func (m *InMemoryManager) OldestUserConnection(userID string) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldest *state.Connection
	for _, conn := range m.byUser[userID] {
		if oldest == nil || conn.ConnectedAt.Before(oldest.ConnectedAt) {
			oldest = conn
		}
	}
	return oldest, oldest != nil
}

// --- Room Membership ---

func (m *InMemoryManager) Subscribe(connID uuid.UUID, room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return errors.New("cannot subscribe: unknown connection")
	}

	members, exists := m.rooms[room]
	if !exists {
		members = make(map[uuid.UUID]*state.Connection)
		m.rooms[room] = members
	}
	members[connID] = conn
	conn.Rooms[room] = struct{}{}

	m.logger.Debug("Connection subscribed to room", "connID", connID.String(), "room", room)
	return nil
}

func (m *InMemoryManager) Unsubscribe(connID uuid.UUID, room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		// Unknown connection can't be in any room.
		return nil
	}
	m.leaveRoom(conn, room)
	m.logger.Debug("Connection unsubscribed from room", "connID", connID.String(), "room", room)
	return nil
}

// leaveRoom must be called with m.mu held.
func (m *InMemoryManager) leaveRoom(conn *state.Connection, room string) {
	delete(conn.Rooms, room)
	members, ok := m.rooms[room]
	if !ok {
		return
	}
	delete(members, conn.ID)
	// For memory hygiene, remove the room if it's now empty.
	if len(members) == 0 {
		delete(m.rooms, room)
		m.logger.Debug("Removed empty room", "room", room)
	}
}

func (m *InMemoryManager) RoomConnections(room string) []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return collect(m.rooms[room])
}

// --- Stats ---

func (m *InMemoryManager) Snapshot() state.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byRole := make(map[string]int)
	for _, conn := range m.conns {
		byRole[conn.Identity.Role.String()]++
	}
	return state.Snapshot{
		CurrentConnections: len(m.conns),
		TotalConnections:   m.totalAdmitted,
		ByRole:             byRole,
		CompaniesOnline:    len(m.companies),
		DriversOnline:      len(m.drivers),
		StartedAt:          m.startedAt,
	}
}

func collect(set map[uuid.UUID]*state.Connection) []*state.Connection {
	conns := make([]*state.Connection, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}
