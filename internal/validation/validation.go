// Package validation holds the pure predicates behind room and classroom
// input checking. Nothing here touches the store; limits arrive as
// arguments so the predicates stay independently testable.
package validation

import (
	"strings"
	"time"

	"timeout/api/internal/config"
	"timeout/api/internal/models"
)

// Result is the structured outcome of a multi-field validation.
type Result struct {
	Valid  bool
	Errors []string
}

func (r *Result) add(msg string) {
	r.Errors = append(r.Errors, msg)
}

func IsValidName(name string, maxLen int) bool {
	trimmed := strings.TrimSpace(name)
	return trimmed != "" && len(trimmed) <= maxLen
}

func IsValidSubject(subject string, maxLen int) bool {
	trimmed := strings.TrimSpace(subject)
	return trimmed != "" && len(trimmed) <= maxLen
}

// IsValidDescription accepts empty descriptions; only length is bounded.
func IsValidDescription(description string, maxLen int) bool {
	return len(description) <= maxLen
}

func IsValidMaxCount(n, min, max int) bool {
	return n >= min && n <= max
}

func SanitizeText(s string, maxLen int) string {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) > maxLen {
		trimmed = trimmed[:maxLen]
	}
	return trimmed
}

type CreateRoomInput struct {
	Name            string
	Description     string
	Subject         string
	Visibility      models.RoomVisibility
	MaxParticipants int
}

func ValidateCreateRoom(in CreateRoomInput, limits config.RoomConfig) Result {
	var r Result
	if !IsValidName(in.Name, limits.MaxNameLength) {
		r.add("invalid room name")
	}
	if in.Subject != "" && !IsValidSubject(in.Subject, limits.MaxSubjectLength) {
		r.add("invalid subject")
	}
	if !IsValidDescription(in.Description, limits.MaxDescriptionLength) {
		r.add("description is too long")
	}
	if !IsValidMaxCount(in.MaxParticipants, limits.MinParticipants, limits.MaxParticipants) {
		r.add("invalid maximum participants count")
	}
	if in.Visibility != models.RoomVisibilityPublic && in.Visibility != models.RoomVisibilityPrivate {
		r.add("invalid visibility")
	}
	r.Valid = len(r.Errors) == 0
	return r
}

type CreateClassroomInput struct {
	Name        string
	Subject     string
	Description string
	MaxStudents int
}

func ValidateCreateClassroom(in CreateClassroomInput, limits config.ClassroomConfig) Result {
	var r Result
	if !IsValidName(in.Name, limits.MaxNameLength) {
		r.add("invalid classroom name")
	}
	if !IsValidSubject(in.Subject, limits.MaxSubjectLength) {
		r.add("invalid subject")
	}
	if !IsValidDescription(in.Description, limits.MaxDescriptionLength) {
		r.add("description is too long")
	}
	if !IsValidMaxCount(in.MaxStudents, limits.MinStudents, limits.MaxStudents) {
		r.add("invalid maximum students count")
	}
	r.Valid = len(r.Errors) == 0
	return r
}

func IsValidSessionTitle(title string, maxLen int) bool {
	trimmed := strings.TrimSpace(title)
	return trimmed != "" && len(trimmed) <= maxLen
}

// CanJoinClassroom reports whether the user could enroll right now. The
// caller derives the precise error from the classroom state when this is
// false.
func CanJoinClassroom(classroom *models.Classroom, userID string) bool {
	if userID == classroom.TeacherID {
		return false
	}
	if classroom.IsEnrolled(userID) {
		return false
	}
	if classroom.CurrentStudents >= classroom.MaxStudents {
		return false
	}
	if classroom.Status != models.ClassroomStatusActive {
		return false
	}
	return classroom.IsPublic
}

// CanManageClassroom reports ownership.
func CanManageClassroom(classroom *models.Classroom, userID string) bool {
	return classroom.TeacherID == userID
}

func CanStartSession(classroom *models.Classroom, userID string) bool {
	return classroom.TeacherID == userID && classroom.Status == models.ClassroomStatusActive
}

// CanJoinSession checks live-session admission: the session must be live,
// the user must be the classroom's teacher or an enrolled student, the
// session must not be full and the user must not already be in it.
func CanJoinSession(session *models.ClassSession, classroom *models.Classroom, userID string, maxParticipants int) bool {
	if session.Status != models.SessionStatusLive {
		return false
	}
	if userID != classroom.TeacherID && !classroom.IsEnrolled(userID) {
		return false
	}
	if len(session.Participants) >= maxParticipants {
		return false
	}
	return !session.HasParticipant(userID)
}

// SessionDuration returns whole minutes from start to end, or to now for a
// still-running session.
func SessionDuration(session *models.ClassSession, now time.Time) int {
	end := now
	if session.EndTime != nil {
		end = *session.EndTime
	}
	return int(end.Sub(session.StartTime) / time.Minute)
}

func SessionExceededMaxDuration(session *models.ClassSession, now time.Time, max time.Duration) bool {
	end := now
	if session.EndTime != nil {
		end = *session.EndTime
	}
	return end.Sub(session.StartTime) > max
}
