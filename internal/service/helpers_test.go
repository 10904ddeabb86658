package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"timeout/api/internal/config"
	"timeout/api/internal/docstore"
	"timeout/api/internal/models"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testRoomConfig() config.RoomConfig {
	return config.RoomConfig{
		MinParticipants:        2,
		MaxParticipants:        20,
		DefaultMaxParticipants: 8,
		MaxNameLength:          100,
		MaxSubjectLength:       50,
		MaxDescriptionLength:   500,
		DefaultFocusMinutes:    25,
		DefaultShortBreak:      5,
		DefaultLongBreak:       15,
		DefaultTotalSessions:   4,
		ListTTL:                10 * time.Second,
		ListLimit:              50,
	}
}

func testClassroomConfig() config.ClassroomConfig {
	return config.ClassroomConfig{
		MinStudents:          1,
		MaxStudents:          100,
		DefaultMaxStudents:   30,
		MaxNameLength:        100,
		MaxSubjectLength:     50,
		MaxDescriptionLength: 500,
		ListTTL:              10 * time.Second,
		ListLimit:            50,
	}
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		MaxParticipants: 50,
		MaxTitleLength:  200,
		DefaultTitle:    "Live Class Session",
		MaxDuration:     4 * time.Hour,
	}
}

// conflictingStore commits a competing write between a transaction's first
// closure run and its commit, forcing exactly one optimistic retry. The
// interference runs through the wrapped store, so the conflict and the
// re-run are the real protocol, not a simulation.
type conflictingStore struct {
	docstore.Store
	interfere func()
}

func (s *conflictingStore) RunTransaction(ctx context.Context, fn func(tx docstore.Tx) error) error {
	attempt := 0
	return s.Store.RunTransaction(ctx, func(tx docstore.Tx) error {
		attempt++
		err := fn(tx)
		if attempt == 1 && err == nil && s.interfere != nil {
			s.interfere()
		}
		return err
	})
}

// seedProfile writes a ready-made profile straight into the store.
func seedProfile(t *testing.T, store docstore.Store, id, first, last string, role models.UserRole) models.UserProfile {
	t.Helper()

	now := time.Now().UTC()
	profile := models.UserProfile{
		ID:          id,
		Email:       id + "@example.com",
		FirstName:   first,
		LastName:    last,
		DisplayName: first + " " + last,
		Role:        role,
		IsActive:    true,
		Preferences: models.DefaultPreferences(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := store.RunTransaction(context.Background(), func(tx docstore.Tx) error {
		return tx.Set(docstore.CollectionUsers, id, profile)
	})
	if err != nil {
		t.Fatalf("seed profile %s: %v", id, err)
	}
	return profile
}
