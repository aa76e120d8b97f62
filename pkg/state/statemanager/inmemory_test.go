package statemanager_test

import (
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/CarlosdRojasC/envigo-realtime/pkg/state"
	"github.com/CarlosdRojasC/envigo-realtime/pkg/state/statemanager"
	"github.com/google/uuid"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	// Discard logger output during tests by setting a high level
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestManager() *statemanager.InMemoryManager {
	return statemanager.NewInMemoryManager(newTestLogger())
}

type fakeTransport struct {
	id     uuid.UUID
	mu     sync.Mutex
	closed bool
	frames [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{id: uuid.New()}
}

func (f *fakeTransport) ID() uuid.UUID { return f.id }

func (f *fakeTransport) Send(message []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.frames = append(f.frames, message)
	return true
}

func (f *fakeTransport) Close(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// --- Admission & Categorization Tests ---

func TestAdmitCategorizesByRole(t *testing.T) {
	m := newTestManager()

	adminT := newFakeTransport()
	companyT := newFakeTransport()
	driverT := newFakeTransport()

	admin := m.Admit(adminT, state.Identity{UserID: "u-admin", Role: state.RoleAdmin})
	company := m.Admit(companyT, state.Identity{UserID: "u-owner", Role: state.RoleCompanyOwner, CompanyID: "company-a"})
	driver := m.Admit(driverT, state.Identity{UserID: "u-driver", Role: state.RoleDriver, DriverID: "d1", CompanyID: "company-a"})

	admins := m.Admins()
	if len(admins) != 1 || admins[0].ID != admin.ID {
		t.Fatalf("expected exactly the admin connection in the admin set, got %d", len(admins))
	}

	// A driver carrying a company id appears in the company set too.
	companyConns := m.CompanyConnections("company-a")
	if len(companyConns) != 2 {
		t.Fatalf("expected 2 company-a connections, got %d", len(companyConns))
	}
	found := false
	for _, c := range companyConns {
		if c.ID == company.ID {
			found = true
		}
	}
	if !found {
		t.Error("company owner connection missing from company set")
	}

	got, ok := m.DriverConnection("d1")
	if !ok || got.ID != driver.ID {
		t.Error("DriverConnection did not return the admitted driver connection")
	}

	if len(m.CompanyConnections("company-b")) != 0 {
		t.Error("expected empty set for a company with no connections")
	}
}

func TestRetireIsIdempotent(t *testing.T) {
	m := newTestManager()
	tr := newFakeTransport()
	conn := m.Admit(tr, state.Identity{UserID: "u1", Role: state.RoleCompanyEmployee, CompanyID: "company-a"})

	if err := m.Retire(conn.ID); err != nil {
		t.Fatalf("Retire failed: %v", err)
	}
	if err := m.Retire(conn.ID); err != nil {
		t.Fatalf("second Retire failed: %v", err)
	}

	if _, ok := m.Get(conn.ID); ok {
		t.Error("found connection after retire")
	}
	if len(m.CompanyConnections("company-a")) != 0 {
		t.Error("company set still holds retired connection")
	}
	snap := m.Snapshot()
	if snap.CurrentConnections != 0 {
		t.Errorf("expected 0 current connections, got %d", snap.CurrentConnections)
	}
	if snap.TotalConnections != 1 {
		t.Errorf("expected 1 total historical connection, got %d", snap.TotalConnections)
	}
}

func TestDriverSupersede(t *testing.T) {
	m := newTestManager()
	firstT := newFakeTransport()
	secondT := newFakeTransport()

	first := m.Admit(firstT, state.Identity{UserID: "u-d", Role: state.RoleDriver, DriverID: "d1"})
	second := m.Admit(secondT, state.Identity{UserID: "u-d", Role: state.RoleDriver, DriverID: "d1"})

	if !firstT.isClosed() {
		t.Error("superseded driver transport was not closed")
	}
	got, ok := m.DriverConnection("d1")
	if !ok || got.ID != second.ID {
		t.Fatal("DriverConnection should return the most recently admitted connection")
	}

	// Retiring the stale connection must not evict the new mapping.
	if err := m.Retire(first.ID); err != nil {
		t.Fatalf("Retire failed: %v", err)
	}
	got, ok = m.DriverConnection("d1")
	if !ok || got.ID != second.ID {
		t.Error("retiring the superseded connection removed the new driver mapping")
	}
}

// --- Room Tests ---

func TestRoomLifecycle(t *testing.T) {
	m := newTestManager()
	tr := newFakeTransport()
	conn := m.Admit(tr, state.Identity{UserID: "u1", Role: state.RoleOther})

	if err := m.Subscribe(conn.ID, "tracking:42"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if len(m.RoomConnections("tracking:42")) != 1 {
		t.Fatal("expected 1 room member after subscribe")
	}

	// Subscribing twice is a no-op.
	if err := m.Subscribe(conn.ID, "tracking:42"); err != nil {
		t.Fatalf("repeat Subscribe failed: %v", err)
	}
	if len(m.RoomConnections("tracking:42")) != 1 {
		t.Error("repeat subscribe duplicated membership")
	}

	if err := m.Unsubscribe(conn.ID, "tracking:42"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if len(m.RoomConnections("tracking:42")) != 0 {
		t.Error("expected empty room after last member left")
	}

	// Unsubscribing from a room the connection never joined is a no-op.
	if err := m.Unsubscribe(conn.ID, "nope"); err != nil {
		t.Errorf("Unsubscribe from unknown room returned error: %v", err)
	}
}

func TestRetireLeavesRooms(t *testing.T) {
	m := newTestManager()
	aT := newFakeTransport()
	bT := newFakeTransport()
	a := m.Admit(aT, state.Identity{UserID: "ua", Role: state.RoleOther})
	b := m.Admit(bT, state.Identity{UserID: "ub", Role: state.RoleOther})

	m.Subscribe(a.ID, "ops")
	m.Subscribe(b.ID, "ops")

	m.Retire(a.ID)
	members := m.RoomConnections("ops")
	if len(members) != 1 || members[0].ID != b.ID {
		t.Fatalf("expected only the remaining member in the room, got %d", len(members))
	}

	m.Retire(b.ID)
	if len(m.RoomConnections("ops")) != 0 {
		t.Error("room should be gone after the last member retired")
	}
}

// --- Per-user Accounting Tests ---

func TestUserConnectionCountAndOldest(t *testing.T) {
	m := newTestManager()
	t1 := newFakeTransport()
	t2 := newFakeTransport()

	first := m.Admit(t1, state.Identity{UserID: "u1", Role: state.RoleOther})
	m.Admit(t2, state.Identity{UserID: "u1", Role: state.RoleOther})

	if got := m.UserConnectionCount("u1"); got != 2 {
		t.Fatalf("expected 2 connections for u1, got %d", got)
	}
	if got := m.UserConnectionCount("unknown"); got != 0 {
		t.Fatalf("expected 0 connections for unknown user, got %d", got)
	}

	oldest, ok := m.OldestUserConnection("u1")
	if !ok || oldest.ID != first.ID {
		t.Error("OldestUserConnection did not return the first admitted connection")
	}

	m.Retire(first.ID)
	if got := m.UserConnectionCount("u1"); got != 1 {
		t.Errorf("expected 1 connection after retire, got %d", got)
	}
}

func TestSnapshotCounts(t *testing.T) {
	m := newTestManager()
	m.Admit(newFakeTransport(), state.Identity{UserID: "a1", Role: state.RoleAdmin})
	m.Admit(newFakeTransport(), state.Identity{UserID: "o1", Role: state.RoleCompanyOwner, CompanyID: "c1"})
	m.Admit(newFakeTransport(), state.Identity{UserID: "d1", Role: state.RoleDriver, DriverID: "drv-1"})

	snap := m.Snapshot()
	if snap.CurrentConnections != 3 {
		t.Errorf("expected 3 current connections, got %d", snap.CurrentConnections)
	}
	if snap.ByRole["admin"] != 1 || snap.ByRole["company_owner"] != 1 || snap.ByRole["driver"] != 1 {
		t.Errorf("unexpected role counts: %v", snap.ByRole)
	}
	if snap.CompaniesOnline != 1 {
		t.Errorf("expected 1 company online, got %d", snap.CompaniesOnline)
	}
	if snap.DriversOnline != 1 {
		t.Errorf("expected 1 driver online, got %d", snap.DriversOnline)
	}
}
