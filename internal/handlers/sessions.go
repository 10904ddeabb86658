package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/mitchellh/mapstructure"

	"timeout/api/internal/service"
)

func (h HandlerSet) EndClassSession(c *gin.Context) {
	session, duration, err := h.classrooms.EndSession(c.Request.Context(), c.Param("sessionId"), callerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, gin.H{"session": session, "durationMinutes": duration})
}

func (h HandlerSet) JoinLiveSession(c *gin.Context) {
	session, err := h.classrooms.JoinSession(c.Request.Context(), c.Param("sessionId"), callerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, session)
}

func (h HandlerSet) LeaveLiveSession(c *gin.Context) {
	session, err := h.classrooms.LeaveSession(c.Request.Context(), c.Param("sessionId"), callerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, session)
}

// UpdateSessionParticipant decodes the patch strictly: a field outside the
// allowed set rejects the whole request.
func (h HandlerSet) UpdateSessionParticipant(c *gin.Context) {
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		h.badRequest(c, "malformed request body")
		return
	}

	var patch service.SessionParticipantPatch
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &patch,
		ErrorUnused: true,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := decoder.Decode(raw); err != nil {
		h.badRequest(c, "unknown fields in participant patch")
		return
	}

	participant, err := h.classrooms.UpdateParticipant(c.Request.Context(), c.Param("sessionId"), callerID(c), patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, participant)
}
