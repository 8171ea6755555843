package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ironpulse/gymgate/internal/gate"
)

type gateToggleRequestPayload struct {
	Open *bool `json:"open"`
}

type gateEmergencyRequestPayload struct {
	Reason string `json:"reason"`
}

func asDenial(err error) (*gate.DenialError, bool) {
	var denial *gate.DenialError
	if errors.As(err, &denial) {
		return denial, true
	}
	return nil, false
}

func gateResponseBody(result gate.Result) gin.H {
	doorStatus := "closed"
	if result.Open {
		doorStatus = "open"
	}
	body := gin.H{
		"status": "success",
		"gate": gin.H{
			"status":       doorStatus,
			"action":       result.Action,
			"timestamp":    result.Timestamp.Format(time.RFC3339),
			"controlledBy": string(result.ControlledBy),
		},
		"realtimeDatabase": gin.H{
			"success":         result.Sync.Succeeded(),
			"secondarySynced": result.Sync.SecondaryOK,
		},
		"deviceNotified": result.Delivered,
	}
	if result.Tenant != nil {
		body["gym"] = gin.H{
			"id":   result.Tenant.ID,
			"name": result.Tenant.DisplayGymName(),
		}
	}
	return body
}

func (h *httpHandler) handleGateToggle(c *gin.Context) {
	actorID := c.GetString(userIDContextKey)
	var request gateToggleRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Open == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.gate.Toggle(c.Request.Context(), actorID, *request.Open)
	if err != nil {
		h.respondGateError(c, err, "gate toggle failed")
		return
	}
	c.JSON(http.StatusOK, gateResponseBody(result))
}

func (h *httpHandler) handleGateStatus(c *gin.Context) {
	actorID := c.GetString(userIDContextKey)
	result, err := h.gate.Status(c.Request.Context(), actorID)
	if err != nil {
		h.respondGateError(c, err, "gate status failed")
		return
	}

	doorStatus := "closed"
	if result.Open {
		doorStatus = "open"
	}
	body := gin.H{
		"status": "success",
		"gate": gin.H{
			"status":       doorStatus,
			"controlledBy": string(result.ControlledBy),
		},
	}
	if !result.Timestamp.IsZero() {
		body["gate"].(gin.H)["timestamp"] = result.Timestamp.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, body)
}

func (h *httpHandler) handleGateEmergency(c *gin.Context) {
	actorID := c.GetString(userIDContextKey)
	var request gateEmergencyRequestPayload
	// An empty body is tolerated; the controller records a default reason.
	_ = c.ShouldBindJSON(&request)

	result, err := h.gate.Emergency(c.Request.Context(), actorID, request.Reason)
	if err != nil {
		h.respondGateError(c, err, "gate emergency failed")
		return
	}
	body := gateResponseBody(result)
	body["emergency"] = true
	c.JSON(http.StatusOK, body)
}
