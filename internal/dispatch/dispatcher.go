package dispatch

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/CarlosdRojasC/envigo-realtime/pkg/state"
)

// Envelope is the shape of every outbound frame.
type Envelope struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatcher is the single point through which every outbound message passes.
// Delivery is fire-and-forget: each operation returns how many transports
// accepted the write, and nothing is queued or retried for absent recipients.
type Dispatcher struct {
	logger  *slog.Logger
	manager state.Manager
	sent    atomic.Int64
}

func New(logger *slog.Logger, manager state.Manager) *Dispatcher {
	return &Dispatcher{
		logger:  logger.With(slog.String("component", "dispatcher")),
		manager: manager,
	}
}

func (d *Dispatcher) SendToOne(conn *state.Connection, msgType string, data any) bool {
	frame, err := d.encode(msgType, data)
	if err != nil {
		return false
	}
	return d.deliver(conn, frame)
}

func (d *Dispatcher) BroadcastAll(msgType string, data any) int {
	return d.fanOut(d.manager.AllConnections(), msgType, data)
}

func (d *Dispatcher) NotifyCompany(companyID, msgType string, data any) int {
	return d.fanOut(d.manager.CompanyConnections(companyID), msgType, data)
}

func (d *Dispatcher) NotifyAdmins(msgType string, data any) int {
	return d.fanOut(d.manager.Admins(), msgType, data)
}

func (d *Dispatcher) NotifyDriver(driverID, msgType string, data any) int {
	conn, ok := d.manager.DriverConnection(driverID)
	if !ok {
		// Offline driver is not an error; the notification is simply not sent.
		return 0
	}
	if d.SendToOne(conn, msgType, data) {
		return 1
	}
	return 0
}

func (d *Dispatcher) BroadcastToRoom(room, msgType string, data any) int {
	return d.fanOut(d.manager.RoomConnections(room), msgType, data)
}

// MessagesSent returns the total number of frames routed since startup.
func (d *Dispatcher) MessagesSent() int64 {
	return d.sent.Load()
}

func (d *Dispatcher) fanOut(conns []*state.Connection, msgType string, data any) int {
	if len(conns) == 0 {
		return 0
	}
	frame, err := d.encode(msgType, data)
	if err != nil {
		return 0
	}
	delivered := 0
	for _, conn := range conns {
		if d.deliver(conn, frame) {
			delivered++
		}
	}
	return delivered
}

func (d *Dispatcher) deliver(conn *state.Connection, frame []byte) bool {
	if conn == nil || conn.Transport == nil || !conn.Transport.IsOpen() {
		return false
	}
	if !conn.Transport.Send(frame) {
		d.logger.Warn("Transport rejected frame", slog.String("connID", conn.ID.String()))
		return false
	}
	d.sent.Add(1)
	return true
}

func (d *Dispatcher) encode(msgType string, data any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	frame, err := json.Marshal(Envelope{Type: msgType, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		d.logger.Error("Failed to marshal outbound frame",
			slog.String("type", msgType),
			slog.Any("error", err),
		)
		return nil, err
	}
	return frame, nil
}
