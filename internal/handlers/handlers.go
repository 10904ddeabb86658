package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"timeout/api/internal/config"
	"timeout/api/internal/docstore"
	"timeout/api/internal/middleware"
	"timeout/api/internal/security"
	"timeout/api/internal/service"
)

type HandlerSet struct {
	log        zerolog.Logger
	cfg        *config.AppConfig
	db         *pgxpool.Pool
	cache      *redis.Client
	store      docstore.Store
	profiles   *service.ProfileService
	rooms      *service.RoomService
	classrooms *service.ClassroomService
	webhook    *security.WebhookVerifier
}

func NewHandlerSet(log zerolog.Logger, db *pgxpool.Pool, cache *redis.Client, store docstore.Store, webhook *security.WebhookVerifier, cfg *config.AppConfig) HandlerSet {
	profiles := service.NewProfileService(store, log)
	rooms := service.NewRoomService(store, cache, cfg.Rooms, log)
	classrooms := service.NewClassroomService(store, cache, cfg.Classrooms, cfg.Sessions, log)

	return HandlerSet{
		log:        log,
		cfg:        cfg,
		db:         db,
		cache:      cache,
		store:      store,
		profiles:   profiles,
		rooms:      rooms,
		classrooms: classrooms,
		webhook:    webhook,
	}
}

// Profiles exposes the profile service for job wiring.
func (h HandlerSet) Profiles() *service.ProfileService { return h.profiles }

// Classrooms exposes the classroom service for job wiring.
func (h HandlerSet) Classrooms() *service.ClassroomService { return h.classrooms }

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)
	router.POST("/webhooks/identity", h.IdentityWebhook)

	v1 := router.Group("/v1")
	v1.Use(middleware.Auth(h.cfg, h.store))
	{
		users := v1.Group("/users")
		users.GET("/me", h.GetMyProfile)
		users.PUT("/me/role", h.UpdateMyRole)
		users.PATCH("/me/preferences", h.UpdateMyPreferences)
		users.POST("/me/study-stats", h.SubmitStudyStats)

		rooms := v1.Group("/rooms")
		rooms.POST("", h.CreateRoom)
		rooms.GET("", h.ListPublicRooms)
		rooms.GET("/:roomId", h.GetRoom)
		rooms.POST("/:roomId/join", h.JoinRoom)
		rooms.POST("/:roomId/leave", h.LeaveRoom)
		rooms.POST("/:roomId/activity", h.UpdateRoomActivity)

		classrooms := v1.Group("/classrooms")
		classrooms.POST("", h.CreateClassroom)
		classrooms.GET("/mine", h.ListMyClassrooms)
		classrooms.GET("/available", h.ListAvailableClassrooms)
		classrooms.POST("/:classroomId/join", h.JoinClassroom)
		classrooms.POST("/:classroomId/leave", h.LeaveClassroom)
		classrooms.POST("/:classroomId/sessions", h.StartClassSession)

		sessions := v1.Group("/sessions")
		sessions.POST("/:sessionId/end", h.EndClassSession)
		sessions.POST("/:sessionId/join", h.JoinLiveSession)
		sessions.POST("/:sessionId/leave", h.LeaveLiveSession)
		sessions.PATCH("/:sessionId/participant", h.UpdateSessionParticipant)
	}
}

func statusFor(code service.Code) int {
	switch code {
	case service.CodeInvalidArgument:
		return http.StatusBadRequest
	case service.CodeUnauthenticated:
		return http.StatusUnauthorized
	case service.CodePermissionDenied:
		return http.StatusForbidden
	case service.CodeNotFound:
		return http.StatusNotFound
	case service.CodeAlreadyExists:
		return http.StatusConflict
	case service.CodeFailedPrecondition:
		return http.StatusPreconditionFailed
	case service.CodeResourceExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (h HandlerSet) respond(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func (h HandlerSet) respondError(c *gin.Context, err error) {
	code := service.CodeOf(err)
	if code == service.CodeInternal {
		h.log.Error().
			Err(err).
			Str("path", c.Request.URL.Path).
			Str("request_id", c.Writer.Header().Get("X-Request-Id")).
			Msg("request failed")
	}
	c.JSON(statusFor(code), gin.H{
		"success":      false,
		"errorCode":    string(code),
		"errorMessage": service.MessageOf(err),
	})
}

func (h HandlerSet) badRequest(c *gin.Context, msg string) {
	h.respondError(c, service.E(service.CodeInvalidArgument, msg))
}

func callerID(c *gin.Context) string {
	return c.GetString(middleware.ContextUserID)
}
