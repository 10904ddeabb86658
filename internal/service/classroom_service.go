package service

import (
	"context"
	"encoding/json"
	"errors"
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

// ClassroomService manages persistent classrooms and the live sessions run
// under them.
type ClassroomService struct {
	store    docstore.Store
	cfg      config.ClassroomConfig
	sessions config.SessionConfig
	cache    *listCache
	log      zerolog.Logger
}

func NewClassroomService(store docstore.Store, client *redis.Client, cfg config.ClassroomConfig, sessions config.SessionConfig, log zerolog.Logger) *ClassroomService {
	return &ClassroomService{
		store:    store,
		cfg:      cfg,
		sessions: sessions,
		cache:    newListCache(client, cfg.ListTTL, "classrooms:available", log),
		log:      log,
	}
}

type CreateClassroomInput struct {
	Name        string `json:"name"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
	MaxStudents int    `json:"maxStudents"`
	IsPublic    *bool  `json:"isPublic"`
}

// Create opens a classroom owned by the caller, who must hold the teacher
// role.
func (s *ClassroomService) Create(ctx context.Context, teacherID string, in CreateClassroomInput) (models.Classroom, error) {
	var teacher models.UserProfile
	if err := s.store.Get(ctx, docstore.CollectionUsers, teacherID, &teacher); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return models.Classroom{}, E(CodeNotFound, "user profile not found")
		}
		return models.Classroom{}, err
	}
	if teacher.Role != models.RoleTeacher {
		return models.Classroom{}, E(CodePermissionDenied, "only teachers can create classrooms")
	}

	if in.MaxStudents == 0 {
		in.MaxStudents = s.cfg.DefaultMaxStudents
	}
	isPublic := true
	if in.IsPublic != nil {
		isPublic = *in.IsPublic
	}

	check := validation.ValidateCreateClassroom(validation.CreateClassroomInput{
		Name:        in.Name,
		Subject:     in.Subject,
		Description: in.Description,
		MaxStudents: in.MaxStudents,
	}, s.cfg)
	if !check.Valid {
		return models.Classroom{}, E(CodeInvalidArgument, strings.Join(check.Errors, "; "))
	}

	now := time.Now().UTC()
	classroom := models.Classroom{
		ID:               ids.New(),
		Name:             validation.SanitizeText(in.Name, s.cfg.MaxNameLength),
		Subject:          validation.SanitizeText(in.Subject, s.cfg.MaxSubjectLength),
		Description:      validation.SanitizeText(in.Description, s.cfg.MaxDescriptionLength),
		TeacherID:        teacherID,
		TeacherName:      teacher.DisplayName,
		TeacherAvatar:    teacher.AvatarURL,
		MaxStudents:      in.MaxStudents,
		CurrentStudents:  0,
		EnrolledStudents: []string{},
		Status:           models.ClassroomStatusActive,
		IsPublic:         isPublic,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		return tx.Set(docstore.CollectionClassrooms, classroom.ID, classroom)
	})
	if err != nil {
		return models.Classroom{}, err
	}

	s.cache.bump(ctx)
	s.log.Info().Str("classroom_id", classroom.ID).Str("teacher_id", teacherID).Msg("classroom created")
	return classroom, nil
}

// Join enrolls the caller as a student. The admission check re-runs against
// fresh state inside the transaction, so concurrent joins never overfill.
func (s *ClassroomService) Join(ctx context.Context, classroomID, userID string) (models.Classroom, error) {
	var user models.UserProfile
	if err := s.store.Get(ctx, docstore.CollectionUsers, userID, &user); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return models.Classroom{}, E(CodeNotFound, "user profile not found")
		}
		return models.Classroom{}, err
	}

	var classroom models.Classroom
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		if err := getClassroom(tx, classroomID, &classroom); err != nil {
			return err
		}
		if !validation.CanJoinClassroom(&classroom, userID) {
			return joinClassroomError(&classroom, userID)
		}

		classroom.EnrolledStudents = append(classroom.EnrolledStudents, userID)
		classroom.CurrentStudents = len(classroom.EnrolledStudents)
		classroom.UpdatedAt = time.Now().UTC()
		return tx.Set(docstore.CollectionClassrooms, classroomID, classroom)
	})
	if err != nil {
		return models.Classroom{}, err
	}

	s.cache.bump(ctx)
	s.log.Info().Str("classroom_id", classroomID).Str("user_id", userID).Msg("student enrolled")
	return classroom, nil
}

// joinClassroomError maps a failed admission check to its precise cause,
// checked in the same order the predicate applies them.
func joinClassroomError(classroom *models.Classroom, userID string) error {
	switch {
	case userID == classroom.TeacherID:
		return E(CodeFailedPrecondition, "teachers cannot enroll in their own classroom")
	case classroom.IsEnrolled(userID):
		return E(CodeAlreadyExists, "already enrolled in this classroom")
	case classroom.CurrentStudents >= classroom.MaxStudents:
		return E(CodeResourceExhausted, "classroom is full")
	case classroom.Status != models.ClassroomStatusActive:
		return E(CodeFailedPrecondition, "classroom is not active")
	default:
		return E(CodeFailedPrecondition, "classroom is not open for enrollment")
	}
}

// Leave unenrolls a student. The owning teacher can never leave.
func (s *ClassroomService) Leave(ctx context.Context, classroomID, userID string) (models.Classroom, error) {
	var classroom models.Classroom
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		if err := getClassroom(tx, classroomID, &classroom); err != nil {
			return err
		}
		if validation.CanManageClassroom(&classroom, userID) {
			return E(CodeFailedPrecondition, "teachers cannot leave their own classroom")
		}
		if !classroom.IsEnrolled(userID) {
			return E(CodeFailedPrecondition, "not enrolled in this classroom")
		}

		remaining := make([]string, 0, len(classroom.EnrolledStudents)-1)
		for _, id := range classroom.EnrolledStudents {
			if id != userID {
				remaining = append(remaining, id)
			}
		}
		classroom.EnrolledStudents = remaining
		classroom.CurrentStudents = len(remaining)
		classroom.UpdatedAt = time.Now().UTC()
		return tx.Set(docstore.CollectionClassrooms, classroomID, classroom)
	})
	if err != nil {
		return models.Classroom{}, err
	}

	s.cache.bump(ctx)
	s.log.Info().Str("classroom_id", classroomID).Str("user_id", userID).Msg("student unenrolled")
	return classroom, nil
}

type StartSessionInput struct {
	Title    string                  `json:"title"`
	Settings *models.SessionSettings `json:"settings"`
}

func (s *ClassroomService) defaultSessionSettings() models.SessionSettings {
	return models.SessionSettings{
		AllowStudentVideo: true,
		AllowStudentAudio: true,
		AllowStudentChat:  true,
		AutoMuteOnJoin:    true,
		MaxParticipants:   s.sessions.MaxParticipants,
		RequireApproval:   false,
	}
}

// StartSession opens a live session under a classroom with the teacher as
// its first participant.
func (s *ClassroomService) StartSession(ctx context.Context, classroomID, teacherID string, in StartSessionInput) (models.ClassSession, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = s.sessions.DefaultTitle
	}
	if !validation.IsValidSessionTitle(title, s.sessions.MaxTitleLength) {
		return models.ClassSession{}, E(CodeInvalidArgument, "invalid session title")
	}

	settings := s.defaultSessionSettings()
	if in.Settings != nil {
		settings = *in.Settings
		if settings.MaxParticipants <= 0 || settings.MaxParticipants > s.sessions.MaxParticipants {
			settings.MaxParticipants = s.sessions.MaxParticipants
		}
	}

	var teacher models.UserProfile
	if err := s.store.Get(ctx, docstore.CollectionUsers, teacherID, &teacher); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return models.ClassSession{}, E(CodeNotFound, "user profile not found")
		}
		return models.ClassSession{}, err
	}

	var session models.ClassSession
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		var classroom models.Classroom
		if err := getClassroom(tx, classroomID, &classroom); err != nil {
			return err
		}
		if !validation.CanStartSession(&classroom, teacherID) {
			if !validation.CanManageClassroom(&classroom, teacherID) {
				return E(CodePermissionDenied, "only the classroom teacher can start a session")
			}
			return E(CodeFailedPrecondition, "classroom is not active")
		}

		now := time.Now().UTC()
		session = models.ClassSession{
			ID:           ids.New(),
			ClassroomID:  classroomID,
			TeacherID:    teacherID,
			TeacherName:  teacher.DisplayName,
			Title:        title,
			StartTime:    now,
			Status:       models.SessionStatusLive,
			Participants: []string{teacherID},
			ParticipantDetails: map[string]models.SessionParticipant{
				teacherID: newSessionParticipant(&teacher, models.SessionRoleTeacher, settings, now),
			},
			Settings:  settings,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.Set(docstore.CollectionSessions, session.ID, session)
	})
	if err != nil {
		return models.ClassSession{}, err
	}

	s.log.Info().
		Str("session_id", session.ID).
		Str("classroom_id", classroomID).
		Str("teacher_id", teacherID).
		Msg("class session started")
	return session, nil
}

func newSessionParticipant(user *models.UserProfile, role models.SessionRole, settings models.SessionSettings, now time.Time) models.SessionParticipant {
	return models.SessionParticipant{
		UserID:           user.ID,
		DisplayName:      user.DisplayName,
		AvatarURL:        user.AvatarURL,
		Role:             role,
		JoinedAt:         now,
		VideoEnabled:     false,
		AudioEnabled:     !settings.AutoMuteOnJoin,
		IsActive:         true,
		ConnectionStatus: models.ConnectionGood,
	}
}

// EndSession closes a live session and returns its duration in whole
// minutes.
func (s *ClassroomService) EndSession(ctx context.Context, sessionID, teacherID string) (models.ClassSession, int, error) {
	var session models.ClassSession
	var duration int
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		if err := getSession(tx, sessionID, &session); err != nil {
			return err
		}
		if session.TeacherID != teacherID {
			return E(CodePermissionDenied, "only the session teacher can end it")
		}
		if session.Status != models.SessionStatusLive {
			return E(CodeFailedPrecondition, "session is not live")
		}
		duration = endSession(&session, time.Now().UTC())
		return tx.Set(docstore.CollectionSessions, sessionID, session)
	})
	if err != nil {
		return models.ClassSession{}, 0, err
	}

	s.log.Info().
		Str("session_id", sessionID).
		Int("duration_minutes", duration).
		Msg("class session ended")
	return session, duration, nil
}

// endSession applies the terminal transition in place and returns the floored
// minute count. Active participants are marked left as of the end time.
func endSession(session *models.ClassSession, now time.Time) int {
	session.Status = models.SessionStatusEnded
	session.EndTime = &now
	session.UpdatedAt = now
	for id, detail := range session.ParticipantDetails {
		if !detail.IsActive {
			continue
		}
		left := now
		detail.IsActive = false
		detail.LeftAt = &left
		session.ParticipantDetails[id] = detail
	}
	session.Participants = []string{}
	return validation.SessionDuration(session, now)
}

// JoinSession admits the classroom's teacher or an enrolled student into a
// live session. The parent classroom is read inside the same transaction so
// a concurrent unenroll cannot race an admission.
func (s *ClassroomService) JoinSession(ctx context.Context, sessionID, userID string) (models.ClassSession, error) {
	var user models.UserProfile
	if err := s.store.Get(ctx, docstore.CollectionUsers, userID, &user); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return models.ClassSession{}, E(CodeNotFound, "user profile not found")
		}
		return models.ClassSession{}, err
	}

	var session models.ClassSession
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		if err := getSession(tx, sessionID, &session); err != nil {
			return err
		}
		var classroom models.Classroom
		if err := getClassroom(tx, session.ClassroomID, &classroom); err != nil {
			return err
		}

		if session.Status != models.SessionStatusLive {
			return E(CodeFailedPrecondition, "session is not live")
		}
		if userID != classroom.TeacherID && !classroom.IsEnrolled(userID) {
			return E(CodePermissionDenied, "not a member of this classroom")
		}
		if len(session.Participants) >= session.Settings.MaxParticipants {
			return E(CodeResourceExhausted, "session is full")
		}
		if session.HasParticipant(userID) {
			return E(CodeAlreadyExists, "already in this session")
		}

		role := models.SessionRoleStudent
		if userID == classroom.TeacherID {
			role = models.SessionRoleTeacher
		}
		now := time.Now().UTC()
		session.Participants = append(session.Participants, userID)
		session.ParticipantDetails[userID] = newSessionParticipant(&user, role, session.Settings, now)
		session.UpdatedAt = now
		return tx.Set(docstore.CollectionSessions, sessionID, session)
	})
	if err != nil {
		return models.ClassSession{}, err
	}

	s.log.Info().Str("session_id", sessionID).Str("user_id", userID).Msg("user joined live session")
	return session, nil
}

// LeaveSession removes the caller from the active set but keeps the detail
// record: leftAt plus isActive=false distinguishes "joined then left" from
// "never joined".
func (s *ClassroomService) LeaveSession(ctx context.Context, sessionID, userID string) (models.ClassSession, error) {
	var session models.ClassSession
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		if err := getSession(tx, sessionID, &session); err != nil {
			return err
		}
		if !session.HasParticipant(userID) {
			return E(CodeFailedPrecondition, "not in this session")
		}

		remaining := make([]string, 0, len(session.Participants)-1)
		for _, id := range session.Participants {
			if id != userID {
				remaining = append(remaining, id)
			}
		}
		session.Participants = remaining

		now := time.Now().UTC()
		detail := session.ParticipantDetails[userID]
		detail.IsActive = false
		detail.LeftAt = &now
		session.ParticipantDetails[userID] = detail
		session.UpdatedAt = now
		return tx.Set(docstore.CollectionSessions, sessionID, session)
	})
	if err != nil {
		return models.ClassSession{}, err
	}

	s.log.Info().Str("session_id", sessionID).Str("user_id", userID).Msg("user left live session")
	return session, nil
}

// SessionParticipantPatch is the restricted field set a participant may
// update on their own record.
type SessionParticipantPatch struct {
	VideoEnabled     *bool                    `json:"videoEnabled" mapstructure:"videoEnabled"`
	AudioEnabled     *bool                    `json:"audioEnabled" mapstructure:"audioEnabled"`
	ConnectionStatus *models.ConnectionStatus `json:"connectionStatus" mapstructure:"connectionStatus"`
}

// UpdateParticipant merges a media/connection patch into the caller's own
// participant record.
func (s *ClassroomService) UpdateParticipant(ctx context.Context, sessionID, userID string, patch SessionParticipantPatch) (models.SessionParticipant, error) {
	if patch.ConnectionStatus != nil && !patch.ConnectionStatus.Valid() {
		return models.SessionParticipant{}, E(CodeInvalidArgument, "invalid connection status")
	}

	var updated models.SessionParticipant
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		var session models.ClassSession
		if err := getSession(tx, sessionID, &session); err != nil {
			return err
		}
		if !session.HasParticipant(userID) {
			return E(CodeFailedPrecondition, "not in this session")
		}

		detail := session.ParticipantDetails[userID]
		if patch.VideoEnabled != nil {
			detail.VideoEnabled = *patch.VideoEnabled
		}
		if patch.AudioEnabled != nil {
			detail.AudioEnabled = *patch.AudioEnabled
		}
		if patch.ConnectionStatus != nil {
			detail.ConnectionStatus = *patch.ConnectionStatus
		}
		session.ParticipantDetails[userID] = detail
		session.UpdatedAt = time.Now().UTC()
		updated = detail
		return tx.Set(docstore.CollectionSessions, sessionID, session)
	})
	if err != nil {
		return models.SessionParticipant{}, err
	}
	return updated, nil
}

// ListMine returns classrooms the user teaches plus those they are enrolled
// in, newest first within each group.
func (s *ClassroomService) ListMine(ctx context.Context, userID string) ([]models.Classroom, error) {
	teaching, err := s.store.List(ctx, docstore.CollectionClassrooms, docstore.Query{
		Filter:      docstore.Filter{Eq: map[string]any{"teacherId": userID}},
		OrderByDesc: "createdAt",
	})
	if err != nil {
		return nil, err
	}
	enrolled, err := s.store.List(ctx, docstore.CollectionClassrooms, docstore.Query{
		Filter:      docstore.Filter{Contains: map[string]string{"enrolledStudents": userID}},
		OrderByDesc: "createdAt",
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.Classroom, 0, len(teaching)+len(enrolled))
	for _, doc := range append(teaching, enrolled...) {
		var classroom models.Classroom
		if err := json.Unmarshal(doc, &classroom); err != nil {
			s.log.Error().Err(err).Msg("malformed classroom document in listing")
			continue
		}
		out = append(out, classroom)
	}
	return out, nil
}

// ListAvailable returns public active classrooms for discovery, newest
// first.
func (s *ClassroomService) ListAvailable(ctx context.Context, subject string, limit, offset int) ([]models.PublicClassroom, error) {
	if limit <= 0 || limit > s.cfg.ListLimit {
		limit = s.cfg.ListLimit
	}
	if offset < 0 {
		offset = 0
	}
	subject = strings.TrimSpace(subject)

	key := s.cache.key(ctx, subject, limit, offset)
	var cached []models.PublicClassroom
	if s.cache.get(ctx, key, &cached) {
		return cached, nil
	}

	filter := docstore.Filter{
		Eq: map[string]any{
			"isPublic": true,
			"status":   string(models.ClassroomStatusActive),
		},
	}
	if subject != "" {
		filter.Eq["subject"] = subject
	}
	raw, err := s.store.List(ctx, docstore.CollectionClassrooms, docstore.Query{
		Filter:      filter,
		OrderByDesc: "createdAt",
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		return nil, err
	}

	classrooms := make([]models.PublicClassroom, 0, len(raw))
	for _, doc := range raw {
		var classroom models.Classroom
		if err := json.Unmarshal(doc, &classroom); err != nil {
			s.log.Error().Err(err).Msg("malformed classroom document in listing")
			continue
		}
		classrooms = append(classrooms, classroom.Public())
	}

	s.cache.put(ctx, key, classrooms)
	return classrooms, nil
}

// SweepOverdueSessions force-ends live sessions that have run past the
// configured maximum. Ending goes through the same transactional transition
// as a teacher-initiated end.
func (s *ClassroomService) SweepOverdueSessions(ctx context.Context) (int, error) {
	raw, err := s.store.List(ctx, docstore.CollectionSessions, docstore.Query{
		Filter: docstore.Filter{Eq: map[string]any{"status": string(models.SessionStatusLive)}},
	})
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	ended := 0
	for _, doc := range raw {
		var candidate models.ClassSession
		if err := json.Unmarshal(doc, &candidate); err != nil {
			s.log.Error().Err(err).Msg("malformed session document in sweep")
			continue
		}
		if !validation.SessionExceededMaxDuration(&candidate, now, s.sessions.MaxDuration) {
			continue
		}

		err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
			var session models.ClassSession
			if err := getSession(tx, candidate.ID, &session); err != nil {
				return err
			}
			if session.Status != models.SessionStatusLive {
				return nil
			}
			endSession(&session, time.Now().UTC())
			return tx.Set(docstore.CollectionSessions, session.ID, session)
		})
		if err != nil {
			s.log.Error().Err(err).Str("session_id", candidate.ID).Msg("overdue session sweep failed")
			continue
		}
		ended++
		s.log.Info().Str("session_id", candidate.ID).Msg("overdue session force-ended")
	}
	return ended, nil
}

func getClassroom(tx docstore.Tx, classroomID string, out *models.Classroom) error {
	if err := tx.Get(docstore.CollectionClassrooms, classroomID, out); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return E(CodeNotFound, "classroom not found")
		}
		return err
	}
	return nil
}

func getSession(tx docstore.Tx, sessionID string, out *models.ClassSession) error {
	if err := tx.Get(docstore.CollectionSessions, sessionID, out); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return E(CodeNotFound, "session not found")
		}
		return err
	}
	return nil
}
