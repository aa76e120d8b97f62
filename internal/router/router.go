package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/CarlosdRojasC/envigo-realtime/internal/dispatch"
	"github.com/CarlosdRojasC/envigo-realtime/pkg/state"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// StatsFunc supplies the aggregate system stats for the admin get_stats command.
type StatsFunc func() any

// CommandRouter interprets client-originated frames and invokes the matching
// registry or dispatcher operation. A malformed or unauthorized frame is
// logged and dropped; it never closes the connection.
type CommandRouter struct {
	logger     *slog.Logger
	manager    state.Manager
	dispatcher *dispatch.Dispatcher
	stats      StatsFunc
}

func New(logger *slog.Logger, manager state.Manager, dispatcher *dispatch.Dispatcher, stats StatsFunc) *CommandRouter {
	return &CommandRouter{
		logger:     logger.With(slog.String("component", "command_router")),
		manager:    manager,
		dispatcher: dispatcher,
		stats:      stats,
	}
}

func (r *CommandRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	conn, ok := r.manager.Get(connID)
	if !ok {
		r.logger.Warn("Frame from unregistered connection", "connID", connID.String())
		return
	}

	if !gjson.ValidBytes(msg) {
		r.logger.Warn("Dropping malformed frame", "connID", connID.String())
		return
	}
	msgType := gjson.GetBytes(msg, "type").String()
	if msgType == "" {
		r.logger.Warn("Dropping frame without type", "connID", connID.String())
		return
	}

	var clientMsg ClientMessage
	if err := json.Unmarshal(msg, &clientMsg); err != nil {
		r.logger.Warn("Failed to unmarshal client frame", "connID", connID.String(), "error", err)
		return
	}

	switch msgType {
	case "ping":
		r.dispatcher.SendToOne(conn, "pong", map[string]any{"time": time.Now().UTC()})
	case "update_location":
		r.handleLocationUpdate(conn, clientMsg.Data)
	case "subscribe_to_room":
		r.handleRoomChange(conn, clientMsg.Data, true)
	case "unsubscribe_from_room":
		r.handleRoomChange(conn, clientMsg.Data, false)
	case "get_stats":
		r.handleGetStats(conn)
	case "broadcast_to_company":
		r.handleCompanyBroadcast(conn, clientMsg.Data)
	default:
		r.logger.Warn("Dropping unrecognized command",
			slog.String("type", msgType),
			slog.String("connID", connID.String()),
		)
	}
}

// handleLocationUpdate fans a driver's position out to admins and, if the
// driver belongs to a company, to that company's clients. The driver's own
// connection never receives the echo.
func (r *CommandRouter) handleLocationUpdate(conn *state.Connection, data json.RawMessage) {
	identity := conn.Identity
	if identity.Role != state.RoleDriver {
		r.logger.Debug("Ignoring location update from non-driver", "connID", conn.ID.String())
		return
	}

	var loc locationUpdate
	if err := json.Unmarshal(data, &loc); err != nil {
		r.logger.Warn("Invalid location payload", "connID", conn.ID.String(), "error", err)
		return
	}

	payload := map[string]any{
		"driverId":   identity.DriverID,
		"driverName": identity.Name,
		"latitude":   loc.Latitude,
		"longitude":  loc.Longitude,
		"heading":    loc.Heading,
		"speed":      loc.Speed,
		"timestamp":  time.Now().UTC(),
	}
	r.dispatcher.NotifyAdmins("driver_location_update", payload)
	if identity.CompanyID != "" {
		r.dispatcher.NotifyCompany(identity.CompanyID, "driver_location_update", payload)
	}
}

func (r *CommandRouter) handleRoomChange(conn *state.Connection, data json.RawMessage, join bool) {
	var req roomRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Room == "" {
		r.logger.Warn("Invalid room request", "connID", conn.ID.String())
		return
	}

	if join {
		if err := r.manager.Subscribe(conn.ID, req.Room); err != nil {
			r.logger.Warn("Subscribe failed", "connID", conn.ID.String(), "error", err)
			return
		}
		r.dispatcher.SendToOne(conn, "subscribed", map[string]any{"room": req.Room})
		return
	}
	if err := r.manager.Unsubscribe(conn.ID, req.Room); err != nil {
		r.logger.Warn("Unsubscribe failed", "connID", conn.ID.String(), "error", err)
		return
	}
	r.dispatcher.SendToOne(conn, "unsubscribed", map[string]any{"room": req.Room})
}

func (r *CommandRouter) handleGetStats(conn *state.Connection) {
	// Admin-only; silently ignored for everyone else.
	if conn.Identity.Role != state.RoleAdmin {
		r.logger.Debug("Ignoring get_stats from non-admin", "connID", conn.ID.String())
		return
	}
	r.dispatcher.SendToOne(conn, "stats", r.stats())
}

func (r *CommandRouter) handleCompanyBroadcast(conn *state.Connection, data json.RawMessage) {
	if conn.Identity.Role != state.RoleAdmin {
		r.logger.Debug("Ignoring broadcast_to_company from non-admin", "connID", conn.ID.String())
		return
	}

	var req companyBroadcast
	if err := json.Unmarshal(data, &req); err != nil || req.CompanyID == "" || req.Event == "" {
		r.logger.Warn("Invalid company broadcast request", "connID", conn.ID.String())
		return
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	delivered := r.dispatcher.NotifyCompany(req.CompanyID, req.Event, payload)
	r.logger.Info("Admin company broadcast",
		slog.String("companyID", req.CompanyID),
		slog.String("event", req.Event),
		slog.Int("delivered", delivered),
	)
}
