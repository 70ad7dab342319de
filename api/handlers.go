package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"lanwarden/blacklist"
	"lanwarden/models"
	"lanwarden/storage"
)

const defaultEventLimit = 100

type blacklistRequest struct {
	MAC    string `json:"mac" binding:"required"`
	Reason string `json:"reason"`
}

func deviceViews(devices []models.Device) []models.DeviceView {
	out := make([]models.DeviceView, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.View())
	}
	return out
}

func (s *Server) handleDevices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": deviceViews(s.cfg.Devices.List())})
}

func (s *Server) handleScan(c *gin.Context) {
	devices := s.cfg.Scanner.Scan(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"devices": deviceViews(devices),
		"report":  s.cfg.Scanner.LastReport(),
	})
}

func (s *Server) handleBlacklistList(c *gin.Context) {
	entries := s.cfg.Blacklist.List()
	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		var ip any
		if e.IP != "" {
			ip = e.IP
		}
		out = append(out, gin.H{
			"mac":       e.MAC,
			"reason":    e.Reason,
			"timestamp": e.Timestamp,
			"ip":        ip,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}

func (s *Server) handleBlacklistAdd(c *gin.Context) {
	var req blacklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	entry, err := s.cfg.Blacklist.Add(c.Request.Context(), req.MAC, req.Reason)
	if err != nil {
		if errors.Is(err, blacklist.ErrInvalidMAC) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"mac": entry.MAC, "entry": entry})
}

func (s *Server) handleBlacklistRemove(c *gin.Context) {
	entry, err := s.cfg.Blacklist.Remove(c.Request.Context(), c.Param("mac"))
	switch {
	case errors.Is(err, blacklist.ErrInvalidMAC):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, blacklist.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"mac": entry.MAC, "entry": entry})
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"network":  s.cfg.Network,
		"firewall": s.cfg.Firewall,
		"scan":     s.cfg.Scanner.LastReport(),
		"host":     hostStatus(),
	}
	if s.cfg.Loop != nil {
		status["state"] = s.cfg.Loop.State().String()
		if report, ok := s.cfg.Loop.LastReport(); ok {
			status["last_cycle"] = report
		}
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.cfg.Events == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event log requires the sqlite store"})
		return
	}

	filter := storage.EventFilter{
		MAC:     c.Query("mac"),
		CycleID: c.Query("cycle_id"),
		Action:  c.Query("action"),
		Limit:   defaultEventLimit,
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}
	if filter.MAC != "" {
		mac, err := models.NormalizeMAC(filter.MAC)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mac"})
			return
		}
		filter.MAC = mac
	}

	events, err := s.cfg.Events.GetEvents(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
