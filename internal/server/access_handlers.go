package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ironpulse/gymgate/internal/access"
	"github.com/ironpulse/gymgate/internal/directory"
)

type verifyRequestPayload struct {
	GymOwnerID string `json:"gymOwnerId"`
	MemberID   string `json:"memberId"`
	DeviceID   string `json:"deviceId"`
}

// statusForReason maps a deny reason to its HTTP status. The body carries
// the reason code either way; the status exists for clients that only look
// at the line.
func statusForReason(verdict access.Verdict) int {
	if verdict.Granted() {
		return http.StatusOK
	}
	switch verdict.Reason {
	case access.ReasonInvalidTenant, access.ReasonInvalidPrincipal:
		return http.StatusNotFound
	case access.ReasonSystemError:
		return http.StatusInternalServerError
	default:
		return http.StatusForbidden
	}
}

func verifyResponseBody(result access.CheckInResult, req verifyRequestPayload) gin.H {
	verdict := result.Decision.Verdict
	status := "error"
	if verdict.Granted() {
		status = "success"
	}

	data := gin.H{}
	if result.Decision.Principal != nil {
		data["member"] = gin.H{
			"id":               result.Decision.Principal.ID,
			"name":             result.Decision.Principal.Name,
			"membershipStatus": result.Decision.Principal.MembershipStatus,
		}
	}
	if result.Decision.Tenant != nil {
		data["gym"] = gin.H{
			"id":    result.Decision.Tenant.ID,
			"name":  result.Decision.Tenant.DisplayGymName(),
			"owner": result.Decision.Tenant.Name,
		}
	}
	if req.DeviceID != "" {
		data["device"] = gin.H{"id": req.DeviceID}
	}
	if verdict.LastScan != nil {
		data["lastScan"] = verdict.LastScan.Format(time.RFC3339)
	}

	body := gin.H{
		"status":          status,
		"reason":          verdict.Reason,
		"message":         verdict.Message,
		"nodeMcuResponse": verdict.NodeMCUStatus(),
		"data":            data,
		"realtimeDatabase": gin.H{
			"success":         result.Sync.Succeeded(),
			"secondarySynced": result.Sync.SecondaryOK,
		},
		"deviceNotified": result.Delivered,
	}
	return body
}

func (h *httpHandler) handleAccessVerify(c *gin.Context) {
	var request verifyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.GymOwnerID) == "" || strings.TrimSpace(request.MemberID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result := h.service.CheckIn(c.Request.Context(), access.CheckInRequest{
		TenantID: request.GymOwnerID,
		MemberID: request.MemberID,
		DeviceID: request.DeviceID,
	})
	c.JSON(statusForReason(result.Decision.Verdict), verifyResponseBody(result, request))
}

// handleNodeMCUVerify is the minimal firmware contract: the body is always
// 200 with a single ACTIVE/INACTIVE field, because the controller firmware
// parses nothing else.
func (h *httpHandler) handleNodeMCUVerify(c *gin.Context) {
	var request verifyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.GymOwnerID) == "" || strings.TrimSpace(request.MemberID) == "" {
		c.JSON(http.StatusOK, gin.H{"nodeMcuResponse": "INACTIVE"})
		return
	}

	result := h.service.CheckIn(c.Request.Context(), access.CheckInRequest{
		TenantID: request.GymOwnerID,
		MemberID: request.MemberID,
		DeviceID: request.DeviceID,
	})
	c.JSON(http.StatusOK, gin.H{"nodeMcuResponse": result.Decision.Verdict.NodeMCUStatus()})
}

func (h *httpHandler) handleDeviceValidate(c *gin.Context) {
	var request verifyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.GymOwnerID) == "" || strings.TrimSpace(request.MemberID) == "" ||
		strings.TrimSpace(request.DeviceID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result := h.service.ValidateFromDevice(c.Request.Context(), access.CheckInRequest{
		TenantID: request.GymOwnerID,
		MemberID: request.MemberID,
		DeviceID: request.DeviceID,
	})
	verdict := result.Decision.Verdict
	status := statusForReason(verdict)
	if verdict.Reason == access.ReasonDeviceNotAuthorized {
		status = http.StatusForbidden
	}
	c.JSON(status, verifyResponseBody(result, request))
}

func (h *httpHandler) handleStaffEntry(c *gin.Context) {
	actorID := c.GetString(userIDContextKey)
	if actorID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	result, err := h.gate.StaffEntry(c.Request.Context(), actorID)
	if err != nil {
		h.respondGateError(c, err, "staff entry failed")
		return
	}
	c.JSON(http.StatusOK, gateResponseBody(result))
}

func (h *httpHandler) handleAccessLogs(c *gin.Context) {
	actorID := c.GetString(userIDContextKey)
	actor, err := h.directory.FindUser(c.Request.Context(), actorID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if actor.Role != directory.RoleGymOwner {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	logs := h.service.Events().ListByTenant(actor.ID)
	if rawLimit := c.Query("limit"); rawLimit != "" {
		limit, parseErr := strconv.Atoi(rawLimit)
		if parseErr != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		if limit < len(logs) {
			logs = logs[:limit]
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "count": len(logs), "logs": logs})
}

func (h *httpHandler) respondGateError(c *gin.Context, err error, logMessage string) {
	if denial, ok := asDenial(err); ok {
		status := http.StatusForbidden
		if denial.Verdict.Reason == access.ReasonSystemError {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{
			"status":  "error",
			"reason":  denial.Verdict.Reason,
			"message": denial.Verdict.Message,
		})
		return
	}
	h.logger.Error(logMessage, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}
