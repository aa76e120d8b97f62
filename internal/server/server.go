package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/CarlosdRojasC/envigo-realtime/internal/dispatch"
	"github.com/CarlosdRojasC/envigo-realtime/internal/notify"
	"github.com/CarlosdRojasC/envigo-realtime/internal/router"
	"github.com/CarlosdRojasC/envigo-realtime/internal/server/middleware"
	"github.com/CarlosdRojasC/envigo-realtime/pkg/config"
	"github.com/CarlosdRojasC/envigo-realtime/pkg/state"
	"github.com/CarlosdRojasC/envigo-realtime/pkg/state/statemanager"
	"github.com/CarlosdRojasC/envigo-realtime/pkg/transport"
	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// compile-time check: the websocket transport satisfies the registry's view.
var _ state.Transport = (*transport.Connection)(nil)

type App struct {
	logger     *slog.Logger
	manager    state.Manager
	dispatcher *dispatch.Dispatcher
	notifier   *notify.Service
	commands   *router.CommandRouter
	wg         sync.WaitGroup
	http       *http.Server
	config     *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) *App {
	manager := statemanager.NewInMemoryManager(logger)
	dispatcher := dispatch.New(logger, manager)
	notifier := notify.NewService(logger, manager, dispatcher)
	commands := router.New(logger, manager, dispatcher, func() any { return notifier.SystemStats() })

	app := &App{
		logger:     logger,
		manager:    manager,
		dispatcher: dispatcher,
		notifier:   notifier,
		commands:   commands,
		config:     cfg,
		ctx:        rootCtx,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	// Create a cycler function that closes over the manager and logger.
	connCycler := func(userID string) {
		oldest, found := manager.OldestUserConnection(userID)
		if found {
			logger.Info("Cycling connection: closing oldest",
				slog.String("userID", userID),
				slog.String("connID", oldest.ID.String()),
			)
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}

	engine.GET("/ws",
		middleware.RequestMetadataMiddleware(),
		middleware.NewRequestLogger(logger),
		middleware.NewAuthMiddleware(logger, cfg.Server.Auth.JWTSecret),
		middleware.NewConnectionLimiter(logger, manager.UserConnectionCount, connCycler, cfg.Server.ConnectionLimit),
		app.upgradeHandler,
	)
	engine.GET("/health", app.healthHandler)

	api := engine.Group("/api")
	{
		api.GET("/ws-stats", app.statsHandler)
		api.POST("/ws-test", app.testHandler)
		api.POST("/ws-broadcast", app.broadcastHandler)
	}

	app.http = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: engine,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}
	return app
}

// Notifier exposes the collaborator-facing API for order-lifecycle code.
func (a *App) Notifier() *notify.Service {
	return a.notifier
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(c *gin.Context) {
	reqMeta, ok := middleware.ReqMetadataFrom(c)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.Identity.UserID),
	)

	wsConn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		connLogger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		c.Request.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig{
			PingInterval:    a.config.Transport.PingInterval,
			PingTimeout:     a.config.Transport.PingTimeout,
			MaxMessageBytes: a.config.Transport.MaxMessageBytes,
			SendBuffer:      a.config.Transport.SendBuffer,
		},
		a.logger,
	)
	conn.SetOnMessageHandler(a.commands.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Retiring connection due to closure", slog.String("connID", id.String()))
		if rErr := a.manager.Retire(id); rErr != nil {
			connLogger.Error("Failed to retire connection from state", slog.Any("error", rErr))
		}
	})

	a.manager.Admit(conn, reqMeta.Identity)

	connLogger.Info("Connection fully established",
		slog.String("role", reqMeta.Identity.Role.String()),
	)
	conn.Run()
	<-conn.Done()
}

func (a *App) healthHandler(c *gin.Context) {
	stats := a.notifier.SystemStats()
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"uptimeSeconds": stats.UptimeSeconds,
		"connections":   stats.CurrentConnections,
	})
}

func (a *App) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, a.notifier.SystemStats())
}

func (a *App) testHandler(c *gin.Context) {
	delivered := a.notifier.SendTestNotification()
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}

type broadcastRequest struct {
	Type string         `json:"type" binding:"required"`
	Data map[string]any `json:"data"`
}

func (a *App) broadcastHandler(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type is required"})
		return
	}
	delivered := a.notifier.Broadcast(req.Type, req.Data)
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, conn := range a.manager.AllConnections() {
		conn.Transport.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
