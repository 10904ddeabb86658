package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"timeout/api/internal/service"
)

func (h HandlerSet) CreateClassroom(c *gin.Context) {
	var in service.CreateClassroomInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.badRequest(c, "malformed request body")
		return
	}

	classroom, err := h.classrooms.Create(c.Request.Context(), callerID(c), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, classroom)
}

func (h HandlerSet) ListMyClassrooms(c *gin.Context) {
	classrooms, err := h.classrooms.ListMine(c.Request.Context(), callerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, classrooms)
}

func (h HandlerSet) ListAvailableClassrooms(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	classrooms, err := h.classrooms.ListAvailable(c.Request.Context(), c.Query("subject"), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, classrooms)
}

func (h HandlerSet) JoinClassroom(c *gin.Context) {
	classroom, err := h.classrooms.Join(c.Request.Context(), c.Param("classroomId"), callerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, classroom)
}

func (h HandlerSet) LeaveClassroom(c *gin.Context) {
	classroom, err := h.classrooms.Leave(c.Request.Context(), c.Param("classroomId"), callerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, classroom)
}

func (h HandlerSet) StartClassSession(c *gin.Context) {
	var in service.StartSessionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.badRequest(c, "malformed request body")
		return
	}

	session, err := h.classrooms.StartSession(c.Request.Context(), c.Param("classroomId"), callerID(c), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, session)
}
