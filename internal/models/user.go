package models

import "time"

type UserRole string

const (
	// RoleUnset marks a profile that has not picked a role yet. The role
	// becomes immutable once set through UpdateUserRole.
	RoleUnset   UserRole = ""
	RoleStudent UserRole = "student"
	RoleTeacher UserRole = "teacher"
	RoleAdmin   UserRole = "admin"
)

func (r UserRole) Assignable() bool {
	return r == RoleStudent || r == RoleTeacher
}

// StudyStats are cumulative counters. TotalStudyTime, SessionsCompleted and
// LongestStreak never decrease; CurrentStreak and WeeklyProgress reset only
// through explicit operations. Times are in minutes.
type StudyStats struct {
	TotalStudyTime    int `json:"totalStudyTime"`
	SessionsCompleted int `json:"sessionsCompleted"`
	CurrentStreak     int `json:"currentStreak"`
	LongestStreak     int `json:"longestStreak"`
	WeeklyGoal        int `json:"weeklyGoal"`
	WeeklyProgress    int `json:"weeklyProgress"`
}

type Preferences struct {
	DefaultFocusTime        int    `json:"defaultFocusTime"`
	ShortBreakTime          int    `json:"shortBreakTime"`
	LongBreakTime           int    `json:"longBreakTime"`
	SessionsBeforeLongBreak int    `json:"sessionsBeforeLongBreak"`
	SoundEnabled            bool   `json:"soundEnabled"`
	NotificationsEnabled    bool   `json:"notificationsEnabled"`
	Theme                   string `json:"theme"`
}

func DefaultPreferences() Preferences {
	return Preferences{
		DefaultFocusTime:        25,
		ShortBreakTime:          5,
		LongBreakTime:           15,
		SessionsBeforeLongBreak: 4,
		SoundEnabled:            true,
		NotificationsEnabled:    true,
		Theme:                   "system",
	}
}

// UserProfile is keyed by the identity provider's stable user id. It is
// created on first sign-in, merged on every subsequent sign-in and never
// hard-deleted.
type UserProfile struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	FirstName   string      `json:"firstName"`
	LastName    string      `json:"lastName"`
	DisplayName string      `json:"displayName"`
	AvatarURL   string      `json:"avatarUrl"`
	Role        UserRole    `json:"role"`
	IsActive    bool        `json:"isActive"`
	StudyStats  StudyStats  `json:"studyStats"`
	Preferences Preferences `json:"preferences"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	DeletedAt   *time.Time  `json:"deletedAt,omitempty"`
}
