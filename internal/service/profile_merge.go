package service

import (
	"strings"
	"time"

	"timeout/api/internal/models"
)

// IdentityPayload is the field set the identity provider supplies on every
// sign-in, via webhook or client SDK.
type IdentityPayload struct {
	ID        string `mapstructure:"id"`
	Email     string `mapstructure:"email"`
	FirstName string `mapstructure:"firstName"`
	LastName  string `mapstructure:"lastName"`
	AvatarURL string `mapstructure:"avatarUrl"`
}

func (p IdentityPayload) displayName() string {
	name := strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
	if name == "" {
		return "Anonymous"
	}
	return name
}

// MergeDefaults seeds fields that are filled only when the stored profile
// is missing them.
type MergeDefaults struct {
	Preferences models.Preferences
	WeeklyGoal  int
}

func DefaultMergeDefaults() MergeDefaults {
	return MergeDefaults{Preferences: models.DefaultPreferences()}
}

// MergeResult describes what a sign-in changes. Updates lists the written
// fields by name; an empty map means the merge was a no-op and nothing is
// persisted. Conflicts lists immutable fields whose incoming value differed
// from the stored one; they are reported, never applied.
type MergeResult struct {
	Created   bool
	Updates   map[string]any
	Conflicts []string
	Profile   models.UserProfile
}

// MergeProfile computes the profile write for an identity payload. Field
// classes:
//
//   - immutable: id, email once set, createdAt, role once set, every
//     cumulative stat counter
//   - updatable from source: firstName, lastName, displayName, avatarUrl
//   - fill if missing: preferences fields, weeklyGoal
func MergeProfile(payload IdentityPayload, existing *models.UserProfile, defaults MergeDefaults, now time.Time) MergeResult {
	if existing == nil {
		profile := models.UserProfile{
			ID:          payload.ID,
			Email:       payload.Email,
			FirstName:   payload.FirstName,
			LastName:    payload.LastName,
			DisplayName: payload.displayName(),
			AvatarURL:   payload.AvatarURL,
			Role:        models.RoleUnset,
			IsActive:    true,
			StudyStats:  models.StudyStats{WeeklyGoal: defaults.WeeklyGoal},
			Preferences: defaults.Preferences,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return MergeResult{Created: true, Updates: map[string]any{"profile": "created"}, Profile: profile}
	}

	result := MergeResult{Updates: make(map[string]any), Profile: *existing}
	p := &result.Profile

	if payload.ID != existing.ID {
		result.Conflicts = append(result.Conflicts, "id")
	}
	if existing.Email == "" && payload.Email != "" {
		p.Email = payload.Email
		result.Updates["email"] = payload.Email
	} else if payload.Email != "" && payload.Email != existing.Email {
		result.Conflicts = append(result.Conflicts, "email")
	}

	if payload.FirstName != existing.FirstName {
		p.FirstName = payload.FirstName
		result.Updates["firstName"] = payload.FirstName
	}
	if payload.LastName != existing.LastName {
		p.LastName = payload.LastName
		result.Updates["lastName"] = payload.LastName
	}
	if display := payload.displayName(); display != existing.DisplayName {
		p.DisplayName = display
		result.Updates["displayName"] = display
	}
	if payload.AvatarURL != existing.AvatarURL {
		p.AvatarURL = payload.AvatarURL
		result.Updates["avatarUrl"] = payload.AvatarURL
	}

	fillPreferences(p, defaults.Preferences, result.Updates)
	if existing.StudyStats.WeeklyGoal == 0 && defaults.WeeklyGoal != 0 {
		p.StudyStats.WeeklyGoal = defaults.WeeklyGoal
		result.Updates["studyStats.weeklyGoal"] = defaults.WeeklyGoal
	}

	if len(result.Updates) > 0 {
		p.UpdatedAt = now
	}
	return result
}

// fillPreferences fills unset preference fields with defaults and never
// overwrites a value the user already holds. Booleans are owned entirely by
// the explicit preferences operation; an unset boolean is indistinguishable
// from false, so the merge leaves them alone.
func fillPreferences(p *models.UserProfile, defaults models.Preferences, updates map[string]any) {
	if p.Preferences.DefaultFocusTime == 0 {
		p.Preferences.DefaultFocusTime = defaults.DefaultFocusTime
		updates["preferences.defaultFocusTime"] = defaults.DefaultFocusTime
	}
	if p.Preferences.ShortBreakTime == 0 {
		p.Preferences.ShortBreakTime = defaults.ShortBreakTime
		updates["preferences.shortBreakTime"] = defaults.ShortBreakTime
	}
	if p.Preferences.LongBreakTime == 0 {
		p.Preferences.LongBreakTime = defaults.LongBreakTime
		updates["preferences.longBreakTime"] = defaults.LongBreakTime
	}
	if p.Preferences.SessionsBeforeLongBreak == 0 {
		p.Preferences.SessionsBeforeLongBreak = defaults.SessionsBeforeLongBreak
		updates["preferences.sessionsBeforeLongBreak"] = defaults.SessionsBeforeLongBreak
	}
	if p.Preferences.Theme == "" {
		p.Preferences.Theme = defaults.Theme
		updates["preferences.theme"] = defaults.Theme
	}
}

// ApplyAdditiveStats computes the next stat block for a submitted study
// interval. A negative delta is a caller error; a computed decrease of any
// cumulative counter means corrupted state and is fatal rather than
// silently clamped.
func ApplyAdditiveStats(current models.StudyStats, studyTimeDelta int, sessionCompleted bool) (models.StudyStats, error) {
	if studyTimeDelta < 0 {
		return models.StudyStats{}, E(CodeInvalidArgument, "study time delta must be non-negative")
	}

	next := current
	next.TotalStudyTime = current.TotalStudyTime + studyTimeDelta
	next.WeeklyProgress = current.WeeklyProgress + studyTimeDelta
	if sessionCompleted {
		next.SessionsCompleted = current.SessionsCompleted + 1
		next.CurrentStreak = current.CurrentStreak + 1
	}
	if next.CurrentStreak > next.LongestStreak {
		next.LongestStreak = next.CurrentStreak
	}

	if next.TotalStudyTime < current.TotalStudyTime ||
		next.SessionsCompleted < current.SessionsCompleted ||
		next.LongestStreak < current.LongestStreak {
		return models.StudyStats{}, E(CodeInternal, "cumulative stat would decrease")
	}
	return next, nil
}
