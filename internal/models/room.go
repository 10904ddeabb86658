package models

import "time"

type RoomStatus string

const (
	RoomStatusWaiting RoomStatus = "waiting"
	RoomStatusActive  RoomStatus = "active"
	RoomStatusPaused  RoomStatus = "paused"
	RoomStatusEnded   RoomStatus = "ended"
)

type RoomVisibility string

const (
	RoomVisibilityPublic  RoomVisibility = "public"
	RoomVisibilityPrivate RoomVisibility = "private"
)

type ParticipantRole string

const (
	ParticipantRoleHost   ParticipantRole = "host"
	ParticipantRoleMember ParticipantRole = "participant"
)

type TimerPhase string

const (
	TimerPhaseFocus      TimerPhase = "focus"
	TimerPhaseShortBreak TimerPhase = "shortBreak"
	TimerPhaseLongBreak  TimerPhase = "longBreak"
)

type RoomParticipant struct {
	UserID      string          `json:"userId"`
	DisplayName string          `json:"displayName"`
	AvatarURL   string          `json:"avatarUrl,omitempty"`
	Role        ParticipantRole `json:"role"`
	JoinedAt    time.Time       `json:"joinedAt"`
	IsActive    bool            `json:"isActive"`
	StudyTime   int             `json:"studyTime"` // seconds
}

type RoomTimer struct {
	FocusTime      int        `json:"focusTime"`      // seconds
	ShortBreakTime int        `json:"shortBreakTime"` // seconds
	LongBreakTime  int        `json:"longBreakTime"`  // seconds
	CurrentSession int        `json:"currentSession"`
	TotalSessions  int        `json:"totalSessions"`
	CurrentPhase   TimerPhase `json:"currentPhase"`
	TimeRemaining  int        `json:"timeRemaining"` // seconds
	IsRunning      bool       `json:"isRunning"`
	StartedAt      *time.Time `json:"startedAt"`
	PausedAt       *time.Time `json:"pausedAt"`
}

type RoomSettings struct {
	AutoStartBreaks         bool `json:"autoStartBreaks"`
	AllowLateJoin           bool `json:"allowLateJoin"`
	ShowParticipantProgress bool `json:"showParticipantProgress"`
	MuteChat                bool `json:"muteChat"`
}

// Room is an ephemeral shared study session. CurrentParticipants always
// equals len(Participants), and exactly one participant holds the host role
// while Status != ended. A room never transitions out of ended.
type Room struct {
	ID                  string                     `json:"id"`
	Name                string                     `json:"name"`
	Description         string                     `json:"description,omitempty"`
	Subject             string                     `json:"subject,omitempty"`
	HostID              string                     `json:"hostId"`
	HostName            string                     `json:"hostName"`
	HostAvatar          string                     `json:"hostAvatar,omitempty"`
	Visibility          RoomVisibility             `json:"visibility"`
	Status              RoomStatus                 `json:"status"`
	MaxParticipants     int                        `json:"maxParticipants"`
	CurrentParticipants int                        `json:"currentParticipants"`
	Participants        map[string]RoomParticipant `json:"participants"`
	Timer               RoomTimer                  `json:"timer"`
	Settings            RoomSettings               `json:"settings"`
	CreatedAt           time.Time                  `json:"createdAt"`
	UpdatedAt           time.Time                  `json:"updatedAt"`
	EndedAt             *time.Time                 `json:"endedAt,omitempty"`
}

// PublicRoom is the discovery-listing shape: the participant map is reduced
// to a count so member ids never leak through public listings.
type PublicRoom struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	Subject          string         `json:"subject,omitempty"`
	HostName         string         `json:"hostName"`
	HostAvatar       string         `json:"hostAvatar,omitempty"`
	Status           RoomStatus     `json:"status"`
	Visibility       RoomVisibility `json:"visibility"`
	MaxParticipants  int            `json:"maxParticipants"`
	ParticipantCount int            `json:"participantCount"`
	CreatedAt        time.Time      `json:"createdAt"`
}

func (r *Room) Public() PublicRoom {
	return PublicRoom{
		ID:               r.ID,
		Name:             r.Name,
		Description:      r.Description,
		Subject:          r.Subject,
		HostName:         r.HostName,
		HostAvatar:       r.HostAvatar,
		Status:           r.Status,
		Visibility:       r.Visibility,
		MaxParticipants:  r.MaxParticipants,
		ParticipantCount: len(r.Participants),
		CreatedAt:        r.CreatedAt,
	}
}
