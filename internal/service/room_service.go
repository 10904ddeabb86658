package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"timeout/api/internal/config"
	"timeout/api/internal/docstore"
	"timeout/api/internal/ids"
	"timeout/api/internal/models"
	"timeout/api/internal/validation"
)

// RoomService manages ephemeral study rooms: creation, membership and the
// host succession that keeps exactly one host in every live room.
type RoomService struct {
	store docstore.Store
	cfg   config.RoomConfig
	cache *listCache
	log   zerolog.Logger
}

func NewRoomService(store docstore.Store, client *redis.Client, cfg config.RoomConfig, log zerolog.Logger) *RoomService {
	return &RoomService{
		store: store,
		cfg:   cfg,
		cache: newListCache(client, cfg.ListTTL, "rooms:public", log),
		log:   log,
	}
}

// CreateRoomInput carries the client-supplied room parameters. Zero values
// fall back to configured defaults before validation.
type CreateRoomInput struct {
	Name            string                `json:"name"`
	Description     string                `json:"description"`
	Subject         string                `json:"subject"`
	Visibility      models.RoomVisibility `json:"visibility"`
	MaxParticipants int                   `json:"maxParticipants"`
	FocusMinutes    int                   `json:"focusTime"`
	ShortBreak      int                   `json:"shortBreakTime"`
	LongBreak       int                   `json:"longBreakTime"`
	TotalSessions   int                   `json:"totalSessions"`
}

func (s *RoomService) applyCreateDefaults(in *CreateRoomInput) {
	if in.Visibility == "" {
		in.Visibility = models.RoomVisibilityPublic
	}
	if in.MaxParticipants == 0 {
		in.MaxParticipants = s.cfg.DefaultMaxParticipants
	}
	if in.FocusMinutes == 0 {
		in.FocusMinutes = s.cfg.DefaultFocusMinutes
	}
	if in.ShortBreak == 0 {
		in.ShortBreak = s.cfg.DefaultShortBreak
	}
	if in.LongBreak == 0 {
		in.LongBreak = s.cfg.DefaultLongBreak
	}
	if in.TotalSessions == 0 {
		in.TotalSessions = s.cfg.DefaultTotalSessions
	}
}

// Create opens a room with the caller as its host and sole participant.
func (s *RoomService) Create(ctx context.Context, hostID string, in CreateRoomInput) (models.Room, error) {
	s.applyCreateDefaults(&in)

	check := validation.ValidateCreateRoom(validation.CreateRoomInput{
		Name:            in.Name,
		Description:     in.Description,
		Subject:         in.Subject,
		Visibility:      in.Visibility,
		MaxParticipants: in.MaxParticipants,
	}, s.cfg)
	if !check.Valid {
		return models.Room{}, E(CodeInvalidArgument, strings.Join(check.Errors, "; "))
	}
	if in.FocusMinutes <= 0 || in.ShortBreak <= 0 || in.LongBreak <= 0 || in.TotalSessions <= 0 {
		return models.Room{}, E(CodeInvalidArgument, "timer durations must be positive")
	}

	var host models.UserProfile
	if err := s.store.Get(ctx, docstore.CollectionUsers, hostID, &host); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return models.Room{}, E(CodeNotFound, "user profile not found")
		}
		return models.Room{}, err
	}

	now := time.Now().UTC()
	room := models.Room{
		ID:                  ids.New(),
		Name:                validation.SanitizeText(in.Name, s.cfg.MaxNameLength),
		Description:         validation.SanitizeText(in.Description, s.cfg.MaxDescriptionLength),
		Subject:             validation.SanitizeText(in.Subject, s.cfg.MaxSubjectLength),
		HostID:              hostID,
		HostName:            host.DisplayName,
		HostAvatar:          host.AvatarURL,
		Visibility:          in.Visibility,
		Status:              models.RoomStatusWaiting,
		MaxParticipants:     in.MaxParticipants,
		CurrentParticipants: 1,
		Participants: map[string]models.RoomParticipant{
			hostID: {
				UserID:      hostID,
				DisplayName: host.DisplayName,
				AvatarURL:   host.AvatarURL,
				Role:        models.ParticipantRoleHost,
				JoinedAt:    now,
				IsActive:    true,
			},
		},
		Timer: models.RoomTimer{
			FocusTime:      in.FocusMinutes * 60,
			ShortBreakTime: in.ShortBreak * 60,
			LongBreakTime:  in.LongBreak * 60,
			CurrentSession: 1,
			TotalSessions:  in.TotalSessions,
			CurrentPhase:   models.TimerPhaseFocus,
			TimeRemaining:  in.FocusMinutes * 60,
		},
		Settings: models.RoomSettings{
			AutoStartBreaks:         true,
			AllowLateJoin:           true,
			ShowParticipantProgress: true,
			MuteChat:                false,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		return tx.Set(docstore.CollectionRooms, room.ID, room)
	})
	if err != nil {
		return models.Room{}, err
	}

	s.cache.bump(ctx)
	s.log.Info().Str("room_id", room.ID).Str("host_id", hostID).Msg("room created")
	return room, nil
}

// Join adds the caller as a regular participant. Admission checks run in a
// fixed order so concurrent callers observe stable error codes: missing
// room, ended room, full room, duplicate membership, late join.
func (s *RoomService) Join(ctx context.Context, roomID, userID string) (models.Room, error) {
	var user models.UserProfile
	if err := s.store.Get(ctx, docstore.CollectionUsers, userID, &user); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return models.Room{}, E(CodeNotFound, "user profile not found")
		}
		return models.Room{}, err
	}

	var room models.Room
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		if err := getRoom(tx, roomID, &room); err != nil {
			return err
		}
		if room.Status == models.RoomStatusEnded {
			return E(CodeFailedPrecondition, "room has ended")
		}
		if room.CurrentParticipants >= room.MaxParticipants {
			return E(CodeResourceExhausted, "room is full")
		}
		if _, ok := room.Participants[userID]; ok {
			return E(CodeAlreadyExists, "already in this room")
		}
		if room.Status == models.RoomStatusActive && !room.Settings.AllowLateJoin {
			return E(CodeFailedPrecondition, "room does not allow late joining")
		}

		now := time.Now().UTC()
		room.Participants[userID] = models.RoomParticipant{
			UserID:      userID,
			DisplayName: user.DisplayName,
			AvatarURL:   user.AvatarURL,
			Role:        models.ParticipantRoleMember,
			JoinedAt:    now,
			IsActive:    true,
		}
		room.CurrentParticipants = len(room.Participants)
		room.UpdatedAt = now
		return tx.Set(docstore.CollectionRooms, roomID, room)
	})
	if err != nil {
		return models.Room{}, err
	}

	s.cache.bump(ctx)
	s.log.Info().Str("room_id", roomID).Str("user_id", userID).Msg("user joined room")
	return room, nil
}

// Leave removes the caller from a room. Three outcomes are possible: a
// departing host with company promotes a successor, a sole participant ends
// the room, and anyone else is simply removed.
func (s *RoomService) Leave(ctx context.Context, roomID, userID string) (models.Room, error) {
	var room models.Room
	var ended bool
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		ended = false
		if err := getRoom(tx, roomID, &room); err != nil {
			return err
		}
		leaver, ok := room.Participants[userID]
		if !ok {
			return E(CodeFailedPrecondition, "not in this room")
		}

		now := time.Now().UTC()
		switch {
		case len(room.Participants) == 1:
			// Last one out: the room ends and the participant record
			// stays as history.
			room.Status = models.RoomStatusEnded
			room.EndedAt = &now
			ended = true
		case leaver.Role == models.ParticipantRoleHost:
			successorID := SuccessorHost(room.Participants, userID)
			successor := room.Participants[successorID]
			successor.Role = models.ParticipantRoleHost
			room.Participants[successorID] = successor
			room.HostID = successor.UserID
			room.HostName = successor.DisplayName
			room.HostAvatar = successor.AvatarURL
			delete(room.Participants, userID)
			room.CurrentParticipants = len(room.Participants)
		default:
			delete(room.Participants, userID)
			room.CurrentParticipants = len(room.Participants)
		}
		room.UpdatedAt = now
		return tx.Set(docstore.CollectionRooms, roomID, room)
	})
	if err != nil {
		return models.Room{}, err
	}

	s.cache.bump(ctx)
	event := s.log.Info().Str("room_id", roomID).Str("user_id", userID)
	if ended {
		event.Msg("room ended with last participant leaving")
	} else {
		event.Str("host_id", room.HostID).Msg("user left room")
	}
	return room, nil
}

// SuccessorHost picks the next host among remaining participants: earliest
// join wins, ties break on lexicographic user id so every replica agrees.
func SuccessorHost(participants map[string]models.RoomParticipant, leavingID string) string {
	candidates := make([]models.RoomParticipant, 0, len(participants))
	for id, p := range participants {
		if id == leavingID {
			continue
		}
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].JoinedAt.Equal(candidates[j].JoinedAt) {
			return candidates[i].JoinedAt.Before(candidates[j].JoinedAt)
		}
		return candidates[i].UserID < candidates[j].UserID
	})
	if len(candidates) == 0 {
		return ""
	}
	return candidates[0].UserID
}

// UpdateActivity flips the caller's presence flag and accrues study time.
func (s *RoomService) UpdateActivity(ctx context.Context, roomID, userID string, isActive bool, studyTimeDelta int) (models.Room, error) {
	if studyTimeDelta < 0 {
		return models.Room{}, E(CodeInvalidArgument, "study time delta must be non-negative")
	}

	var room models.Room
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		if err := getRoom(tx, roomID, &room); err != nil {
			return err
		}
		participant, ok := room.Participants[userID]
		if !ok {
			return E(CodeFailedPrecondition, "not in this room")
		}
		participant.IsActive = isActive
		participant.StudyTime += studyTimeDelta
		room.Participants[userID] = participant
		room.UpdatedAt = time.Now().UTC()
		return tx.Set(docstore.CollectionRooms, roomID, room)
	})
	if err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// ListPublic returns joinable public rooms for discovery, newest first.
func (s *RoomService) ListPublic(ctx context.Context, subject string, limit int) ([]models.PublicRoom, error) {
	if limit <= 0 || limit > s.cfg.ListLimit {
		limit = s.cfg.ListLimit
	}
	subject = strings.TrimSpace(subject)

	key := s.cache.key(ctx, subject, limit)
	var cached []models.PublicRoom
	if s.cache.get(ctx, key, &cached) {
		return cached, nil
	}

	filter := docstore.Filter{
		Eq: map[string]any{"visibility": string(models.RoomVisibilityPublic)},
		In: map[string][]string{"status": {string(models.RoomStatusWaiting), string(models.RoomStatusActive)}},
	}
	if subject != "" {
		filter.Eq["subject"] = subject
	}
	raw, err := s.store.List(ctx, docstore.CollectionRooms, docstore.Query{
		Filter:      filter,
		OrderByDesc: "createdAt",
		Limit:       limit,
	})
	if err != nil {
		return nil, err
	}

	rooms := make([]models.PublicRoom, 0, len(raw))
	for _, doc := range raw {
		var room models.Room
		if err := json.Unmarshal(doc, &room); err != nil {
			s.log.Error().Err(err).Msg("malformed room document in listing")
			continue
		}
		rooms = append(rooms, room.Public())
	}

	s.cache.put(ctx, key, rooms)
	return rooms, nil
}

// GetDetails returns the full room. Private rooms are visible to their
// participants only; public rooms are visible to anyone.
func (s *RoomService) GetDetails(ctx context.Context, roomID, userID string) (models.Room, error) {
	var room models.Room
	if err := s.store.Get(ctx, docstore.CollectionRooms, roomID, &room); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return models.Room{}, E(CodeNotFound, "room not found")
		}
		return models.Room{}, err
	}
	if _, ok := room.Participants[userID]; !ok && room.Visibility != models.RoomVisibilityPublic {
		return models.Room{}, E(CodePermissionDenied, "no access to this room")
	}
	return room, nil
}

func getRoom(tx docstore.Tx, roomID string, out *models.Room) error {
	if err := tx.Get(docstore.CollectionRooms, roomID, out); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return E(CodeNotFound, "room not found")
		}
		return err
	}
	return nil
}
