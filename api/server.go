// Package api exposes the operator HTTP surface.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"lanwarden/actions"
	"lanwarden/discovery"
	"lanwarden/enforce"
	"lanwarden/models"
	"lanwarden/netinfo"
	"lanwarden/storage"
)

const shutdownTimeout = 5 * time.Second

// DeviceLister returns the directory view.
type DeviceLister interface {
	List() []models.Device
	Lookup(mac string) (models.Device, bool)
}

// Scanner triggers an on-demand scan.
type Scanner interface {
	Scan(ctx context.Context) []models.Device
	LastReport() discovery.ScanReport
}

// Blacklist is the mutable blacklist.
type Blacklist interface {
	Add(ctx context.Context, mac, reason string) (models.BlacklistEntry, error)
	Remove(ctx context.Context, mac string) (models.BlacklistEntry, error)
	List() []models.BlacklistEntry
}

// LoopStatus reports the enforcement loop state.
type LoopStatus interface {
	State() enforce.State
	LastReport() (enforce.CycleReport, bool)
}

// EventSource lists recorded enforcement events.
type EventSource interface {
	GetEvents(filter storage.EventFilter) ([]models.EnforcementEvent, error)
}

// Config wires the server. Loop, Events, Notifier and Disconnector are
// optional; routes backed by a missing collaborator answer 503 or 404.
type Config struct {
	Devices      DeviceLister
	Scanner      Scanner
	Blacklist    Blacklist
	Loop         LoopStatus
	Events       EventSource
	Notifier     actions.Notifier
	Disconnector actions.Disconnector
	Network      netinfo.Info
	Firewall     string
	// NotifyMessage is sent when a notify request has no message.
	NotifyMessage string
	// Privileged gates manual disconnects. Defaults to actions.IsPrivileged.
	Privileged func() bool
}

// Server serves the operator API.
type Server struct {
	cfg    Config
	router *gin.Engine
}

// NewServer builds the router.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Devices == nil || cfg.Scanner == nil || cfg.Blacklist == nil {
		return nil, errors.New("devices, scanner and blacklist are required")
	}
	if cfg.Privileged == nil {
		cfg.Privileged = actions.IsPrivileged
	}
	s := &Server{cfg: cfg}
	s.initRouter()
	return s, nil
}

// Router returns the HTTP handler.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) initRouter() {
	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())

	api := s.router.Group("/api")
	{
		api.GET("/devices", s.handleDevices)
		api.POST("/devices/:mac/notify", s.handleDeviceNotify)
		api.POST("/devices/:mac/disconnect", s.handleDeviceDisconnect)
		api.POST("/scan", s.handleScan)
		api.GET("/blacklist", s.handleBlacklistList)
		api.POST("/blacklist", s.handleBlacklistAdd)
		api.DELETE("/blacklist/:mac", s.handleBlacklistRemove)
		api.GET("/status", s.handleStatus)
		api.GET("/events", s.handleEvents)
		api.GET("/ws", s.handleWebSocket)
	}
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("api: listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
