package models

import "time"

type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusLive      SessionStatus = "live"
	SessionStatusEnded     SessionStatus = "ended"
	SessionStatusCancelled SessionStatus = "cancelled"
)

type SessionRole string

const (
	SessionRoleTeacher SessionRole = "teacher"
	SessionRoleStudent SessionRole = "student"
)

type ConnectionStatus string

const (
	ConnectionExcellent    ConnectionStatus = "excellent"
	ConnectionGood         ConnectionStatus = "good"
	ConnectionPoor         ConnectionStatus = "poor"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

func (s ConnectionStatus) Valid() bool {
	switch s {
	case ConnectionExcellent, ConnectionGood, ConnectionPoor, ConnectionDisconnected:
		return true
	}
	return false
}

// SessionParticipant records a user's presence in a live session. The record
// survives the user leaving: LeftAt and IsActive=false distinguish "joined
// then left" from "never joined".
type SessionParticipant struct {
	UserID           string           `json:"userId"`
	DisplayName      string           `json:"displayName"`
	AvatarURL        string           `json:"avatarUrl,omitempty"`
	Role             SessionRole      `json:"role"`
	JoinedAt         time.Time        `json:"joinedAt"`
	LeftAt           *time.Time       `json:"leftAt,omitempty"`
	VideoEnabled     bool             `json:"videoEnabled"`
	AudioEnabled     bool             `json:"audioEnabled"`
	IsActive         bool             `json:"isActive"`
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
}

type SessionSettings struct {
	AllowStudentVideo bool `json:"allowStudentVideo"`
	AllowStudentAudio bool `json:"allowStudentAudio"`
	AllowStudentChat  bool `json:"allowStudentChat"`
	AutoMuteOnJoin    bool `json:"autoMuteOnJoin"`
	MaxParticipants   int  `json:"maxParticipants"`
	RequireApproval   bool `json:"requireApproval"`
}

// ClassSession is a live meeting under a classroom. Participants holds only
// currently-active member ids; ParticipantDetails holds everyone who has
// ever joined.
type ClassSession struct {
	ID                 string                        `json:"id"`
	ClassroomID        string                        `json:"classroomId"`
	TeacherID          string                        `json:"teacherId"`
	TeacherName        string                        `json:"teacherName"`
	Title              string                        `json:"title"`
	StartTime          time.Time                     `json:"startTime"`
	EndTime            *time.Time                    `json:"endTime,omitempty"`
	Status             SessionStatus                 `json:"status"`
	Participants       []string                      `json:"participants"`
	ParticipantDetails map[string]SessionParticipant `json:"participantDetails"`
	Settings           SessionSettings               `json:"settings"`
	CreatedAt          time.Time                     `json:"createdAt"`
	UpdatedAt          time.Time                     `json:"updatedAt"`
}

func (s *ClassSession) HasParticipant(userID string) bool {
	for _, id := range s.Participants {
		if id == userID {
			return true
		}
	}
	return false
}
