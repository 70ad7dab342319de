package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"lanwarden/models"
)

type notifyRequest struct {
	Message string `json:"message"`
}

// lookupDevice resolves the :mac parameter to a directory record with a
// known address, writing the error response when it cannot.
func (s *Server) lookupDevice(c *gin.Context) (models.Device, bool) {
	mac, err := models.NormalizeMAC(c.Param("mac"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mac"})
		return models.Device{}, false
	}
	device, ok := s.cfg.Devices.Lookup(mac)
	if !ok || device.IP == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "device " + mac + " not known"})
		return models.Device{}, false
	}
	return device, true
}

func (s *Server) handleDeviceNotify(c *gin.Context) {
	if s.cfg.Notifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notifications not configured"})
		return
	}

	var req notifyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		message = s.cfg.NotifyMessage
	}
	if message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	device, ok := s.lookupDevice(c)
	if !ok {
		return
	}
	if err := s.cfg.Notifier.Notify(c.Request.Context(), device.IP, message); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mac": device.MAC, "ip": device.IP, "message": message})
}

func (s *Server) handleDeviceDisconnect(c *gin.Context) {
	if s.cfg.Disconnector == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "disconnect not configured"})
		return
	}
	if !s.cfg.Privileged() {
		c.JSON(http.StatusForbidden, gin.H{"error": "disconnect requires administrator privileges"})
		return
	}

	device, ok := s.lookupDevice(c)
	if !ok {
		return
	}
	if err := s.cfg.Disconnector.Disconnect(c.Request.Context(), device.MAC, device.IP); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mac": device.MAC, "ip": device.IP})
}
