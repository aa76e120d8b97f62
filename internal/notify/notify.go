package notify

import (
	"log/slog"
	"time"

	"github.com/CarlosdRojasC/envigo-realtime/internal/dispatch"
	"github.com/CarlosdRojasC/envigo-realtime/pkg/state"
)

// Order is the snapshot of an order that lifecycle code hands to the service.
// The order itself lives elsewhere; this layer only shapes notifications.
type Order struct {
	ID           string
	OrderNumber  string
	Status       string
	CustomerName string
	CompanyID    string
	Channel      string
	Total        float64
	DriverID     string
	DriverName   string
	TrackingURL  string
}

// SystemStats is the aggregate view served to admins and the stats endpoint.
type SystemStats struct {
	CurrentConnections int            `json:"currentConnections"`
	TotalConnections   int64          `json:"totalConnections"`
	MessagesSent       int64          `json:"messagesSent"`
	ByRole             map[string]int `json:"byRole"`
	CompaniesOnline    int            `json:"companiesOnline"`
	DriversOnline      int            `json:"driversOnline"`
	UptimeSeconds      int64          `json:"uptimeSeconds"`
	StartedAt          time.Time      `json:"startedAt"`
}

// statusMessages maps order lifecycle events to the client-facing text.
var statusMessages = map[string]string{
	"driver_assigned":  "Conductor asignado a tu pedido",
	"picked_up":        "Tu pedido fue retirado por el conductor",
	"delivered":        "Tu pedido fue entregado",
	"proof_uploaded":   "La prueba de entrega está disponible",
	"cancelled":        "Tu pedido fue cancelado",
	"ready_for_pickup": "Tu pedido está listo para retiro",
}

const fallbackMessage = "Tu pedido fue actualizado"

// Service is the boundary order-lifecycle code calls to push realtime
// notifications without knowing dispatcher internals.
type Service struct {
	logger     *slog.Logger
	manager    state.Manager
	dispatcher *dispatch.Dispatcher
}

func NewService(logger *slog.Logger, manager state.Manager, dispatcher *dispatch.Dispatcher) *Service {
	return &Service{
		logger:     logger.With(slog.String("component", "notify")),
		manager:    manager,
		dispatcher: dispatcher,
	}
}

// NotifyOrderUpdate fans an order status change out to the owning company,
// all admins and, when assigned and online, the driver. Returns the total
// number of connections the update was delivered to.
func (s *Service) NotifyOrderUpdate(order Order, eventType string) int {
	message, ok := statusMessages[eventType]
	if !ok {
		message = fallbackMessage
	}

	data := map[string]any{
		"orderId":      order.ID,
		"orderNumber":  order.OrderNumber,
		"status":       order.Status,
		"customerName": order.CustomerName,
		"companyId":    order.CompanyID,
		"eventType":    eventType,
		"message":      message,
		"trackingUrl":  order.TrackingURL,
	}
	if order.DriverID != "" {
		data["driver"] = map[string]any{
			"id":   order.DriverID,
			"name": order.DriverName,
		}
	}

	delivered := s.dispatcher.NotifyCompany(order.CompanyID, "order_status_changed", data)
	delivered += s.dispatcher.NotifyAdmins("order_status_changed", data)
	if order.DriverID != "" {
		delivered += s.dispatcher.NotifyDriver(order.DriverID, "order_status_changed", data)
	}

	s.logger.Debug("Order update notified",
		slog.String("orderID", order.ID),
		slog.String("eventType", eventType),
		slog.Int("delivered", delivered),
	)
	return delivered
}

// NotifyNewOrder announces an order ingested from any sales channel to the
// owning company and all admins.
func (s *Service) NotifyNewOrder(order Order) int {
	data := map[string]any{
		"orderId":      order.ID,
		"orderNumber":  order.OrderNumber,
		"customerName": order.CustomerName,
		"companyId":    order.CompanyID,
		"channel":      order.Channel,
		"total":        order.Total,
	}

	delivered := s.dispatcher.NotifyCompany(order.CompanyID, "new_order", data)
	delivered += s.dispatcher.NotifyAdmins("new_order", data)

	s.logger.Debug("New order notified",
		slog.String("orderID", order.ID),
		slog.Int("delivered", delivered),
	)
	return delivered
}

// SystemStats composes the registry snapshot with the dispatcher counters.
func (s *Service) SystemStats() SystemStats {
	snap := s.manager.Snapshot()
	return SystemStats{
		CurrentConnections: snap.CurrentConnections,
		TotalConnections:   snap.TotalConnections,
		MessagesSent:       s.dispatcher.MessagesSent(),
		ByRole:             snap.ByRole,
		CompaniesOnline:    snap.CompaniesOnline,
		DriversOnline:      snap.DriversOnline,
		UptimeSeconds:      int64(time.Since(snap.StartedAt).Seconds()),
		StartedAt:          snap.StartedAt,
	}
}

// Broadcast is a diagnostic hook that delivers a frame to every connection.
func (s *Service) Broadcast(msgType string, data any) int {
	return s.dispatcher.BroadcastAll(msgType, data)
}

// SendTestNotification is a manual-verification hook exposed over HTTP.
func (s *Service) SendTestNotification() int {
	return s.Broadcast("test_notification", map[string]any{
		"message": "Notificación de prueba del servicio realtime",
	})
}
