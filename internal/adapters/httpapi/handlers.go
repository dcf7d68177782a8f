package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zenith-app/calls/internal/call"
	"github.com/zenith-app/calls/internal/domain"
	"github.com/zenith-app/calls/internal/session"
)

type handlers struct {
	mgr       *call.Manager
	lifecycle *session.Lifecycle
	personal  *session.PersonalCalls
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrCallNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrCallActive):
		return http.StatusConflict
	case domain.IsMediaError(err):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

func abortErr(c *gin.Context, err error) {
	c.JSON(errStatus(err), gin.H{"error": err.Error()})
}

func selfID(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString("client_token"))
}

func (h *handlers) createStudySession(c *gin.Context) {
	code, err := h.lifecycle.CreateStudySession(c.Request.Context(), selfID(c))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sessionId": code})
}

func (h *handlers) studySessionExists(c *gin.Context) {
	ok, err := h.lifecycle.SessionExists(c.Request.Context(), domain.SessionID(c.Param("code")))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": ok})
}

func (h *handlers) joinStudySession(c *gin.Context) {
	err := h.lifecycle.JoinStudySession(c.Request.Context(), domain.SessionID(c.Param("code")), selfID(c))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, h.mgr.State())
}

func (h *handlers) leaveStudySession(c *gin.Context) {
	h.lifecycle.LeaveStudySession()
	c.JSON(http.StatusOK, h.mgr.State())
}

func (h *handlers) endStudySession(c *gin.Context) {
	if err := h.lifecycle.EndStudySession(c.Request.Context()); err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, h.mgr.State())
}

func (h *handlers) toggleMic(c *gin.Context) {
	on := h.mgr.ToggleMic()
	c.JSON(http.StatusOK, gin.H{"isMicOn": on})
}

func (h *handlers) callState(c *gin.Context) {
	c.JSON(http.StatusOK, h.mgr.State())
}

type startCallRequest struct {
	CalleeID string `json:"calleeId" binding:"required"`
}

func (h *handlers) startPersonalCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid calleeId"})
		return
	}
	callID, err := h.personal.StartCall(c.Request.Context(), c.Param("conversation"), selfID(c), domain.UserID(req.CalleeID))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"callId": callID})
}

func (h *handlers) acceptPersonalCall(c *gin.Context) {
	if err := h.personal.AcceptCall(c.Request.Context(), c.Param("conversation"), selfID(c)); err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, h.mgr.State())
}

func (h *handlers) declinePersonalCall(c *gin.Context) {
	if err := h.personal.DeclineCall(c.Request.Context(), c.Param("conversation")); err != nil {
		abortErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) hangupPersonalCall(c *gin.Context) {
	if err := h.personal.Hangup(c.Request.Context(), c.Param("conversation")); err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, h.mgr.State())
}
