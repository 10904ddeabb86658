package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"timeout/api/internal/service"
)

func (h HandlerSet) CreateRoom(c *gin.Context) {
	var in service.CreateRoomInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.badRequest(c, "malformed request body")
		return
	}

	room, err := h.rooms.Create(c.Request.Context(), callerID(c), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, room)
}

func (h HandlerSet) ListPublicRooms(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	rooms, err := h.rooms.ListPublic(c.Request.Context(), c.Query("subject"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, rooms)
}

func (h HandlerSet) GetRoom(c *gin.Context) {
	room, err := h.rooms.GetDetails(c.Request.Context(), c.Param("roomId"), callerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, room)
}

func (h HandlerSet) JoinRoom(c *gin.Context) {
	room, err := h.rooms.Join(c.Request.Context(), c.Param("roomId"), callerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, room)
}

func (h HandlerSet) LeaveRoom(c *gin.Context) {
	room, err := h.rooms.Leave(c.Request.Context(), c.Param("roomId"), callerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, room)
}

type roomActivityRequest struct {
	IsActive  bool `json:"isActive"`
	StudyTime int  `json:"studyTime"`
}

func (h HandlerSet) UpdateRoomActivity(c *gin.Context) {
	var req roomActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "malformed request body")
		return
	}

	room, err := h.rooms.UpdateActivity(c.Request.Context(), c.Param("roomId"), callerID(c), req.IsActive, req.StudyTime)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, room)
}
