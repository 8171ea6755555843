package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const streamKeepaliveInterval = 30 * time.Second

type heartbeatRequestPayload struct {
	GymOwnerID string `json:"gymOwnerId"`
}

// handleDeviceStream is the device's listening channel: the controller
// registers via query parameters and then holds the response open while
// envelopes are flushed as server-sent events.
func (h *httpHandler) handleDeviceStream(c *gin.Context) {
	tenantID := strings.TrimSpace(c.Query("gymOwnerId"))
	deviceID := strings.TrimSpace(c.Query("deviceId"))
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "gymOwnerId is required"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	conn, err := h.registry.Register(tenantID, deviceID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer h.registry.Disconnect(conn)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(streamKeepaliveInterval)
	defer keepalive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			fmt.Fprint(c.Writer, ": keepalive\n\n")
			flusher.Flush()
		case envelope, open := <-conn.Stream():
			if !open {
				// A newer registration for the same gym replaced this one.
				return
			}
			payload, marshalErr := json.Marshal(envelope)
			if marshalErr != nil {
				h.logger.Error("failed to encode device envelope",
					zap.String("gym_owner_id", tenantID),
					zap.Error(marshalErr))
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", envelope.Event, payload)
			flusher.Flush()
		}
	}
}

func (h *httpHandler) handleDeviceHeartbeat(c *gin.Context) {
	var request heartbeatRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.GymOwnerID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if !h.registry.Heartbeat(request.GymOwnerID) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "No device registered for this gym"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "listening"})
}

func (h *httpHandler) handleConnectedDevices(c *gin.Context) {
	devices := h.registry.Devices()
	c.JSON(http.StatusOK, gin.H{"status": "success", "count": len(devices), "devices": devices})
}
