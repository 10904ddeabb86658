package handlers

import (
	"github.com/gin-gonic/gin"

	"timeout/api/internal/models"
	"timeout/api/internal/service"
)

func (h HandlerSet) GetMyProfile(c *gin.Context) {
	profile, err := h.profiles.Get(c.Request.Context(), callerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, profile)
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

func (h HandlerSet) UpdateMyRole(c *gin.Context) {
	var req updateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "malformed request body")
		return
	}

	profile, err := h.profiles.UpdateRole(c.Request.Context(), callerID(c), models.UserRole(req.Role))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, profile)
}

func (h HandlerSet) UpdateMyPreferences(c *gin.Context) {
	var patch service.PreferencesPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.badRequest(c, "malformed request body")
		return
	}

	prefs, err := h.profiles.UpdatePreferences(c.Request.Context(), callerID(c), patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, prefs)
}

type studyStatsRequest struct {
	StudyTime        int  `json:"studyTime"`
	SessionCompleted bool `json:"sessionCompleted"`
}

func (h HandlerSet) SubmitStudyStats(c *gin.Context) {
	var req studyStatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "malformed request body")
		return
	}

	stats, err := h.profiles.UpdateStudyStats(c.Request.Context(), callerID(c), req.StudyTime, req.SessionCompleted)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, stats)
}
