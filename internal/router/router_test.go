package router_test

import (
	"context"
	"testing"

	"github.com/CarlosdRojasC/envigo-realtime/internal/dispatch"
	"github.com/CarlosdRojasC/envigo-realtime/internal/router"
	"github.com/CarlosdRojasC/envigo-realtime/internal/testutil"
	"github.com/CarlosdRojasC/envigo-realtime/pkg/state"
	"github.com/CarlosdRojasC/envigo-realtime/pkg/state/statemanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	manager *statemanager.InMemoryManager
	router  *router.CommandRouter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := testutil.NewTestLogger()
	manager := statemanager.NewInMemoryManager(logger)
	dispatcher := dispatch.New(logger, manager)
	stats := func() any {
		return map[string]any{"currentConnections": manager.Snapshot().CurrentConnections}
	}
	return &harness{
		manager: manager,
		router:  router.New(logger, manager, dispatcher, stats),
	}
}

func (h *harness) handle(conn *state.Connection, raw string) {
	h.router.HandleMessage(context.Background(), conn.ID, []byte(raw))
}

func TestPingPong(t *testing.T) {
	h := newHarness(t)
	tr := testutil.NewMockTransport()
	conn := h.manager.Admit(tr, state.Identity{UserID: "u1", Role: state.RoleOther})

	h.handle(conn, `{"type":"ping"}`)

	frames := testutil.DecodeFrames(t, tr.Received())
	require.Len(t, frames, 1)
	assert.Equal(t, "pong", frames[0].Type)
}

func TestLocationUpdateFanOut(t *testing.T) {
	h := newHarness(t)
	driverT := testutil.NewMockTransport()
	adminT := testutil.NewMockTransport()
	companyT := testutil.NewMockTransport()
	otherCompanyT := testutil.NewMockTransport()

	driver := h.manager.Admit(driverT, state.Identity{
		UserID: "u-d", Role: state.RoleDriver, DriverID: "d1", CompanyID: "company-a", Name: "Juan",
	})
	h.manager.Admit(adminT, state.Identity{UserID: "u-a", Role: state.RoleAdmin})
	h.manager.Admit(companyT, state.Identity{UserID: "u-c", Role: state.RoleCompanyOwner, CompanyID: "company-a"})
	h.manager.Admit(otherCompanyT, state.Identity{UserID: "u-o", Role: state.RoleCompanyOwner, CompanyID: "company-b"})

	h.handle(driver, `{"type":"update_location","data":{"latitude":-33.4,"longitude":-70.6,"heading":90,"speed":10}}`)

	for _, tr := range []*testutil.MockTransport{adminT, companyT} {
		frames := testutil.DecodeFrames(t, tr.Received())
		require.Len(t, frames, 1)
		assert.Equal(t, "driver_location_update", frames[0].Type)
		assert.Equal(t, "d1", frames[0].Data["driverId"])
		assert.Equal(t, "Juan", frames[0].Data["driverName"])
		assert.InDelta(t, -33.4, frames[0].Data["latitude"], 0.0001)
		assert.InDelta(t, -70.6, frames[0].Data["longitude"], 0.0001)
	}

	// The driver's own connection and unrelated companies receive nothing.
	assert.Empty(t, driverT.Received())
	assert.Empty(t, otherCompanyT.Received())
}

func TestLocationUpdateIgnoredForNonDrivers(t *testing.T) {
	h := newHarness(t)
	tr := testutil.NewMockTransport()
	adminT := testutil.NewMockTransport()
	conn := h.manager.Admit(tr, state.Identity{UserID: "u1", Role: state.RoleCompanyOwner, CompanyID: "company-a"})
	h.manager.Admit(adminT, state.Identity{UserID: "u-a", Role: state.RoleAdmin})

	h.handle(conn, `{"type":"update_location","data":{"latitude":1,"longitude":2}}`)

	assert.Empty(t, adminT.Received())
	assert.Empty(t, tr.Received())
}

func TestRoomSubscribeAck(t *testing.T) {
	h := newHarness(t)
	tr := testutil.NewMockTransport()
	conn := h.manager.Admit(tr, state.Identity{UserID: "u1", Role: state.RoleOther})

	h.handle(conn, `{"type":"subscribe_to_room","data":{"room":"tracking:42"}}`)
	h.handle(conn, `{"type":"unsubscribe_from_room","data":{"room":"tracking:42"}}`)

	frames := testutil.DecodeFrames(t, tr.Received())
	require.Len(t, frames, 2)
	assert.Equal(t, "subscribed", frames[0].Type)
	assert.Equal(t, "tracking:42", frames[0].Data["room"])
	assert.Equal(t, "unsubscribed", frames[1].Type)

	assert.Empty(t, h.manager.RoomConnections("tracking:42"))
}

func TestGetStatsAdminOnly(t *testing.T) {
	h := newHarness(t)
	adminT := testutil.NewMockTransport()
	driverT := testutil.NewMockTransport()
	admin := h.manager.Admit(adminT, state.Identity{UserID: "u-a", Role: state.RoleAdmin})
	driver := h.manager.Admit(driverT, state.Identity{UserID: "u-d", Role: state.RoleDriver, DriverID: "d1"})

	// Non-admin request is silently ignored.
	h.handle(driver, `{"type":"get_stats"}`)
	assert.Empty(t, driverT.Received())

	h.handle(admin, `{"type":"get_stats"}`)
	frames := testutil.DecodeFrames(t, adminT.Received())
	require.Len(t, frames, 1)
	assert.Equal(t, "stats", frames[0].Type)
	assert.EqualValues(t, 2, frames[0].Data["currentConnections"])
}

func TestCompanyBroadcastAdminOnly(t *testing.T) {
	h := newHarness(t)
	adminT := testutil.NewMockTransport()
	companyT := testutil.NewMockTransport()
	intruderT := testutil.NewMockTransport()
	admin := h.manager.Admit(adminT, state.Identity{UserID: "u-a", Role: state.RoleAdmin})
	h.manager.Admit(companyT, state.Identity{UserID: "u-c", Role: state.RoleCompanyOwner, CompanyID: "company-a"})
	intruder := h.manager.Admit(intruderT, state.Identity{UserID: "u-x", Role: state.RoleOther})

	h.handle(intruder, `{"type":"broadcast_to_company","data":{"companyId":"company-a","event":"promo","payload":{}}}`)
	assert.Empty(t, companyT.Received())

	h.handle(admin, `{"type":"broadcast_to_company","data":{"companyId":"company-a","event":"promo","payload":{"discount":20}}}`)
	frames := testutil.DecodeFrames(t, companyT.Received())
	require.Len(t, frames, 1)
	assert.Equal(t, "promo", frames[0].Type)
	assert.EqualValues(t, 20, frames[0].Data["discount"])
}

func TestMalformedFramesAreDropped(t *testing.T) {
	h := newHarness(t)
	tr := testutil.NewMockTransport()
	conn := h.manager.Admit(tr, state.Identity{UserID: "u1", Role: state.RoleAdmin})

	for _, raw := range []string{
		"this is not json",
		`{"no_type_field":true}`,
		`{"type":""}`,
		`{"type":"does_not_exist","data":{}}`,
		`[1,2,3]`,
		`{"type":"subscribe_to_room","data":{"room":""}}`,
	} {
		h.handle(conn, raw)
	}

	// Nothing crashed, nothing was sent, connection is still registered.
	assert.Empty(t, tr.Received())
	_, ok := h.manager.Get(conn.ID)
	assert.True(t, ok)
}
