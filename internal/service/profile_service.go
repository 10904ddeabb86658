package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"timeout/api/internal/docstore"
	"timeout/api/internal/models"
)

// ProfileService owns the user profile lifecycle: webhook-driven identity
// merges, the one-shot role assignment, preference patches and additive
// study stats.
type ProfileService struct {
	store    docstore.Store
	defaults MergeDefaults
	log      zerolog.Logger
}

func NewProfileService(store docstore.Store, log zerolog.Logger) *ProfileService {
	return &ProfileService{
		store:    store,
		defaults: DefaultMergeDefaults(),
		log:      log,
	}
}

// SyncIdentity applies one sign-in payload. Idempotent: replaying the same
// payload writes nothing.
func (s *ProfileService) SyncIdentity(ctx context.Context, payload IdentityPayload) (MergeResult, error) {
	if payload.ID == "" {
		return MergeResult{}, E(CodeInvalidArgument, "identity id is required")
	}

	var result MergeResult
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		var existing models.UserProfile
		err := tx.Get(docstore.CollectionUsers, payload.ID, &existing)
		switch {
		case errors.Is(err, docstore.ErrNotFound):
			result = MergeProfile(payload, nil, s.defaults, time.Now().UTC())
		case err != nil:
			return err
		default:
			result = MergeProfile(payload, &existing, s.defaults, time.Now().UTC())
		}

		if len(result.Updates) == 0 {
			return nil
		}
		return tx.Set(docstore.CollectionUsers, payload.ID, result.Profile)
	})
	if err != nil {
		return MergeResult{}, err
	}

	for _, field := range result.Conflicts {
		s.log.Warn().
			Str("user_id", payload.ID).
			Str("field", field).
			Msg("identity payload conflicts with immutable profile field")
	}
	return result, nil
}

func (s *ProfileService) Get(ctx context.Context, userID string) (models.UserProfile, error) {
	var profile models.UserProfile
	if err := s.store.Get(ctx, docstore.CollectionUsers, userID, &profile); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return models.UserProfile{}, E(CodeNotFound, "user profile not found")
		}
		return models.UserProfile{}, err
	}
	return profile, nil
}

// UpdateRole sets the role exactly once from unset; any later change is
// rejected.
func (s *ProfileService) UpdateRole(ctx context.Context, userID string, role models.UserRole) (models.UserProfile, error) {
	if !role.Assignable() {
		return models.UserProfile{}, E(CodeInvalidArgument, "invalid role")
	}

	var profile models.UserProfile
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		if err := getProfile(tx, userID, &profile); err != nil {
			return err
		}
		if profile.Role != models.RoleUnset {
			return E(CodeFailedPrecondition, "role is already set")
		}
		profile.Role = role
		profile.UpdatedAt = time.Now().UTC()
		return tx.Set(docstore.CollectionUsers, userID, profile)
	})
	if err != nil {
		return models.UserProfile{}, err
	}

	s.log.Info().Str("user_id", userID).Str("role", string(role)).Msg("user role assigned")
	return profile, nil
}

// PreferencesPatch updates only the fields it carries.
type PreferencesPatch struct {
	DefaultFocusTime        *int    `json:"defaultFocusTime"`
	ShortBreakTime          *int    `json:"shortBreakTime"`
	LongBreakTime           *int    `json:"longBreakTime"`
	SessionsBeforeLongBreak *int    `json:"sessionsBeforeLongBreak"`
	SoundEnabled            *bool   `json:"soundEnabled"`
	NotificationsEnabled    *bool   `json:"notificationsEnabled"`
	Theme                   *string `json:"theme"`
}

func (p PreferencesPatch) validate() error {
	for _, v := range []*int{p.DefaultFocusTime, p.ShortBreakTime, p.LongBreakTime, p.SessionsBeforeLongBreak} {
		if v != nil && *v <= 0 {
			return E(CodeInvalidArgument, "preference durations must be positive")
		}
	}
	if p.Theme != nil {
		switch *p.Theme {
		case "light", "dark", "system":
		default:
			return E(CodeInvalidArgument, "invalid theme")
		}
	}
	return nil
}

func (s *ProfileService) UpdatePreferences(ctx context.Context, userID string, patch PreferencesPatch) (models.Preferences, error) {
	if err := patch.validate(); err != nil {
		return models.Preferences{}, err
	}

	var profile models.UserProfile
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		if err := getProfile(tx, userID, &profile); err != nil {
			return err
		}
		prefs := &profile.Preferences
		if patch.DefaultFocusTime != nil {
			prefs.DefaultFocusTime = *patch.DefaultFocusTime
		}
		if patch.ShortBreakTime != nil {
			prefs.ShortBreakTime = *patch.ShortBreakTime
		}
		if patch.LongBreakTime != nil {
			prefs.LongBreakTime = *patch.LongBreakTime
		}
		if patch.SessionsBeforeLongBreak != nil {
			prefs.SessionsBeforeLongBreak = *patch.SessionsBeforeLongBreak
		}
		if patch.SoundEnabled != nil {
			prefs.SoundEnabled = *patch.SoundEnabled
		}
		if patch.NotificationsEnabled != nil {
			prefs.NotificationsEnabled = *patch.NotificationsEnabled
		}
		if patch.Theme != nil {
			prefs.Theme = *patch.Theme
		}
		profile.UpdatedAt = time.Now().UTC()
		return tx.Set(docstore.CollectionUsers, userID, profile)
	})
	if err != nil {
		return models.Preferences{}, err
	}
	return profile.Preferences, nil
}

// UpdateStudyStats submits a finished study interval. Validation of the
// delta happens before the transaction opens; the monotonicity invariant is
// re-checked inside against freshly read state.
func (s *ProfileService) UpdateStudyStats(ctx context.Context, userID string, studyTime int, sessionCompleted bool) (models.StudyStats, error) {
	if studyTime < 0 {
		return models.StudyStats{}, E(CodeInvalidArgument, "study time must be non-negative")
	}

	var stats models.StudyStats
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		var profile models.UserProfile
		if err := getProfile(tx, userID, &profile); err != nil {
			return err
		}
		next, err := ApplyAdditiveStats(profile.StudyStats, studyTime, sessionCompleted)
		if err != nil {
			return err
		}
		profile.StudyStats = next
		profile.UpdatedAt = time.Now().UTC()
		stats = next
		return tx.Set(docstore.CollectionUsers, userID, profile)
	})
	if err != nil {
		return models.StudyStats{}, err
	}
	return stats, nil
}

// ResetWeeklyProgress is the only path that lowers weeklyProgress.
func (s *ProfileService) ResetWeeklyProgress(ctx context.Context, userID string) error {
	return s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		var profile models.UserProfile
		if err := getProfile(tx, userID, &profile); err != nil {
			return err
		}
		if profile.StudyStats.WeeklyProgress == 0 {
			return nil
		}
		profile.StudyStats.WeeklyProgress = 0
		profile.UpdatedAt = time.Now().UTC()
		return tx.Set(docstore.CollectionUsers, userID, profile)
	})
}

// ResetAllWeeklyProgress fans the weekly reset out across active profiles.
// Per-user failures are logged and skipped so one bad document cannot stall
// the tick.
func (s *ProfileService) ResetAllWeeklyProgress(ctx context.Context) (int, error) {
	raw, err := s.store.List(ctx, docstore.CollectionUsers, docstore.Query{
		Filter: docstore.Filter{Eq: map[string]any{"isActive": true}},
	})
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, doc := range raw {
		var profile models.UserProfile
		if err := json.Unmarshal(doc, &profile); err != nil {
			s.log.Error().Err(err).Msg("malformed user document in weekly reset")
			continue
		}
		if profile.StudyStats.WeeklyProgress == 0 {
			continue
		}
		if err := s.ResetWeeklyProgress(ctx, profile.ID); err != nil {
			s.log.Error().Err(err).Str("user_id", profile.ID).Msg("weekly progress reset failed")
			continue
		}
		reset++
	}
	return reset, nil
}

// SoftDelete deactivates a profile; nothing is ever hard-deleted.
func (s *ProfileService) SoftDelete(ctx context.Context, userID string) error {
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		var profile models.UserProfile
		if err := getProfile(tx, userID, &profile); err != nil {
			return err
		}
		now := time.Now().UTC()
		profile.IsActive = false
		profile.DeletedAt = &now
		profile.UpdatedAt = now
		return tx.Set(docstore.CollectionUsers, userID, profile)
	})
	if err == nil {
		s.log.Info().Str("user_id", userID).Msg("user profile soft deleted")
	}
	return err
}

func getProfile(tx docstore.Tx, userID string, out *models.UserProfile) error {
	if err := tx.Get(docstore.CollectionUsers, userID, out); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return E(CodeNotFound, "user profile not found")
		}
		return err
	}
	return nil
}
