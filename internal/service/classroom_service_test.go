package service

import (
	"context"
	"testing"
	"time"

	"timeout/api/internal/docstore"
	"timeout/api/internal/models"
)

func newClassroomService() (*ClassroomService, *docstore.Memory) {
	store := docstore.NewMemory()
	return NewClassroomService(store, nil, testClassroomConfig(), testSessionConfig(), testLogger()), store
}

func mutateSession(t *testing.T, store docstore.Store, sessionID string, fn func(*models.ClassSession)) {
	t.Helper()
	err := store.RunTransaction(context.Background(), func(tx docstore.Tx) error {
		var session models.ClassSession
		if err := tx.Get(docstore.CollectionSessions, sessionID, &session); err != nil {
			return err
		}
		fn(&session)
		return tx.Set(docstore.CollectionSessions, sessionID, session)
	})
	if err != nil {
		t.Fatalf("mutate session: %v", err)
	}
}

func TestCreateClassroomRequiresTeacherRole(t *testing.T) {
	svc, store := newClassroomService()
	ctx := context.Background()
	seedProfile(t, store, "teacher-1", "Grace", "Hopper", models.RoleTeacher)
	seedProfile(t, store, "student-1", "Ada", "Lovelace", models.RoleStudent)

	classroom, err := svc.Create(ctx, "teacher-1", CreateClassroomInput{Name: "Systems", Subject: "CS"})
	if err != nil {
		t.Fatal(err)
	}
	if classroom.MaxStudents != 30 || !classroom.IsPublic || classroom.Status != models.ClassroomStatusActive {
		t.Errorf("defaults = %+v", classroom)
	}
	if classroom.CurrentStudents != 0 || len(classroom.EnrolledStudents) != 0 {
		t.Errorf("enrollment not empty: %+v", classroom)
	}

	if _, err := svc.Create(ctx, "student-1", CreateClassroomInput{Name: "Nope", Subject: "CS"}); CodeOf(err) != CodePermissionDenied {
		t.Errorf("student create error = %v, want permission-denied", err)
	}
}

func TestJoinClassroomErrors(t *testing.T) {
	svc, store := newClassroomService()
	ctx := context.Background()
	seedProfile(t, store, "teacher-1", "Grace", "Hopper", models.RoleTeacher)
	seedProfile(t, store, "student-1", "Ada", "Lovelace", models.RoleStudent)
	seedProfile(t, store, "student-2", "Alan", "Turing", models.RoleStudent)

	classroom, err := svc.Create(ctx, "teacher-1", CreateClassroomInput{Name: "Systems", Subject: "CS", MaxStudents: 1})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Join(ctx, classroom.ID, "teacher-1"); CodeOf(err) != CodeFailedPrecondition {
		t.Errorf("teacher self-join error = %v, want failed-precondition", err)
	}

	if _, err := svc.Join(ctx, classroom.ID, "student-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Join(ctx, classroom.ID, "student-1"); CodeOf(err) != CodeAlreadyExists {
		t.Errorf("duplicate join error = %v, want already-exists", err)
	}
	if _, err := svc.Join(ctx, classroom.ID, "student-2"); CodeOf(err) != CodeResourceExhausted {
		t.Errorf("full classroom error = %v, want resource-exhausted", err)
	}

	// The capacity=1 cycle: A leaves, B can join.
	if _, err := svc.Leave(ctx, classroom.ID, "student-1"); err != nil {
		t.Fatal(err)
	}
	after, err := svc.Join(ctx, classroom.ID, "student-2")
	if err != nil {
		t.Fatalf("join after vacancy: %v", err)
	}
	if after.CurrentStudents != 1 || !after.IsEnrolled("student-2") {
		t.Errorf("classroom = %+v", after)
	}
}

func TestLeaveClassroomRules(t *testing.T) {
	svc, store := newClassroomService()
	ctx := context.Background()
	seedProfile(t, store, "teacher-1", "Grace", "Hopper", models.RoleTeacher)
	seedProfile(t, store, "student-1", "Ada", "Lovelace", models.RoleStudent)

	classroom, _ := svc.Create(ctx, "teacher-1", CreateClassroomInput{Name: "Systems", Subject: "CS"})
	if _, err := svc.Join(ctx, classroom.ID, "student-1"); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Leave(ctx, classroom.ID, "teacher-1"); CodeOf(err) != CodeFailedPrecondition {
		t.Errorf("teacher leave error = %v, want failed-precondition", err)
	}
	if _, err := svc.Leave(ctx, classroom.ID, "stranger"); CodeOf(err) != CodeFailedPrecondition {
		t.Errorf("stranger leave error = %v, want failed-precondition", err)
	}

	after, err := svc.Leave(ctx, classroom.ID, "student-1")
	if err != nil {
		t.Fatal(err)
	}
	if after.CurrentStudents != 0 || len(after.EnrolledStudents) != 0 {
		t.Errorf("classroom after leave = %+v", after)
	}
}

func TestStartSession(t *testing.T) {
	svc, store := newClassroomService()
	ctx := context.Background()
	seedProfile(t, store, "teacher-1", "Grace", "Hopper", models.RoleTeacher)
	seedProfile(t, store, "student-1", "Ada", "Lovelace", models.RoleStudent)

	classroom, _ := svc.Create(ctx, "teacher-1", CreateClassroomInput{Name: "Systems", Subject: "CS"})

	session, err := svc.StartSession(ctx, classroom.ID, "teacher-1", StartSessionInput{})
	if err != nil {
		t.Fatal(err)
	}
	if session.Status != models.SessionStatusLive || session.Title != "Live Class Session" {
		t.Errorf("session = %+v", session)
	}
	if len(session.Participants) != 1 || session.Participants[0] != "teacher-1" {
		t.Errorf("participants = %v", session.Participants)
	}
	teacher := session.ParticipantDetails["teacher-1"]
	if teacher.Role != models.SessionRoleTeacher || teacher.VideoEnabled {
		t.Errorf("teacher record = %+v", teacher)
	}
	// Auto-mute is on by default, so audio starts disabled.
	if teacher.AudioEnabled {
		t.Error("teacher audio enabled despite auto-mute")
	}
	if teacher.ConnectionStatus != models.ConnectionGood {
		t.Errorf("ConnectionStatus = %q", teacher.ConnectionStatus)
	}

	if _, err := svc.StartSession(ctx, classroom.ID, "student-1", StartSessionInput{}); CodeOf(err) != CodePermissionDenied {
		t.Errorf("student start error = %v, want permission-denied", err)
	}

	err = store.RunTransaction(ctx, func(tx docstore.Tx) error {
		var current models.Classroom
		if err := tx.Get(docstore.CollectionClassrooms, classroom.ID, &current); err != nil {
			return err
		}
		current.Status = models.ClassroomStatusArchived
		return tx.Set(docstore.CollectionClassrooms, classroom.ID, current)
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.StartSession(ctx, classroom.ID, "teacher-1", StartSessionInput{}); CodeOf(err) != CodeFailedPrecondition {
		t.Errorf("archived classroom start error = %v, want failed-precondition", err)
	}
}

func TestEndSessionDuration(t *testing.T) {
	svc, store := newClassroomService()
	ctx := context.Background()
	seedProfile(t, store, "teacher-1", "Grace", "Hopper", models.RoleTeacher)
	seedProfile(t, store, "student-1", "Ada", "Lovelace", models.RoleStudent)

	classroom, _ := svc.Create(ctx, "teacher-1", CreateClassroomInput{Name: "Systems", Subject: "CS"})
	session, _ := svc.StartSession(ctx, classroom.ID, "teacher-1", StartSessionInput{})

	mutateSession(t, store, session.ID, func(s *models.ClassSession) {
		s.StartTime = time.Now().UTC().Add(-61*time.Minute - 30*time.Second)
	})

	if _, _, err := svc.EndSession(ctx, session.ID, "student-1"); CodeOf(err) != CodePermissionDenied {
		t.Errorf("non-teacher end error = %v, want permission-denied", err)
	}

	ended, duration, err := svc.EndSession(ctx, session.ID, "teacher-1")
	if err != nil {
		t.Fatal(err)
	}
	if duration != 61 {
		t.Errorf("duration = %d, want 61", duration)
	}
	if ended.Status != models.SessionStatusEnded || ended.EndTime == nil {
		t.Errorf("session = %+v", ended)
	}
	if len(ended.Participants) != 0 {
		t.Errorf("active set not cleared: %v", ended.Participants)
	}
	detail := ended.ParticipantDetails["teacher-1"]
	if detail.IsActive || detail.LeftAt == nil {
		t.Errorf("teacher detail = %+v", detail)
	}

	if _, _, err := svc.EndSession(ctx, session.ID, "teacher-1"); CodeOf(err) != CodeFailedPrecondition {
		t.Errorf("double end error = %v, want failed-precondition", err)
	}
}

func TestJoinSessionAdmission(t *testing.T) {
	svc, store := newClassroomService()
	ctx := context.Background()
	seedProfile(t, store, "teacher-1", "Grace", "Hopper", models.RoleTeacher)
	seedProfile(t, store, "student-1", "Ada", "Lovelace", models.RoleStudent)
	seedProfile(t, store, "outsider", "Alan", "Turing", models.RoleStudent)

	classroom, _ := svc.Create(ctx, "teacher-1", CreateClassroomInput{Name: "Systems", Subject: "CS"})
	if _, err := svc.Join(ctx, classroom.ID, "student-1"); err != nil {
		t.Fatal(err)
	}
	session, _ := svc.StartSession(ctx, classroom.ID, "teacher-1", StartSessionInput{})

	if _, err := svc.JoinSession(ctx, session.ID, "outsider"); CodeOf(err) != CodePermissionDenied {
		t.Errorf("outsider error = %v, want permission-denied", err)
	}

	joined, err := svc.JoinSession(ctx, session.ID, "student-1")
	if err != nil {
		t.Fatal(err)
	}
	student := joined.ParticipantDetails["student-1"]
	if student.Role != models.SessionRoleStudent || student.VideoEnabled || student.AudioEnabled {
		t.Errorf("student record = %+v", student)
	}

	if _, err := svc.JoinSession(ctx, session.ID, "student-1"); CodeOf(err) != CodeAlreadyExists {
		t.Errorf("duplicate error = %v, want already-exists", err)
	}

	mutateSession(t, store, session.ID, func(s *models.ClassSession) { s.Settings.MaxParticipants = 2 })
	seedProfile(t, store, "student-2", "Katherine", "Johnson", models.RoleStudent)
	if _, err := svc.Join(ctx, classroom.ID, "student-2"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.JoinSession(ctx, session.ID, "student-2"); CodeOf(err) != CodeResourceExhausted {
		t.Errorf("full session error = %v, want resource-exhausted", err)
	}

	if _, _, err := svc.EndSession(ctx, session.ID, "teacher-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.JoinSession(ctx, session.ID, "student-2"); CodeOf(err) != CodeFailedPrecondition {
		t.Errorf("ended session error = %v, want failed-precondition", err)
	}
}

func TestLeaveSessionRetainsHistory(t *testing.T) {
	svc, store := newClassroomService()
	ctx := context.Background()
	seedProfile(t, store, "teacher-1", "Grace", "Hopper", models.RoleTeacher)
	seedProfile(t, store, "student-1", "Ada", "Lovelace", models.RoleStudent)

	classroom, _ := svc.Create(ctx, "teacher-1", CreateClassroomInput{Name: "Systems", Subject: "CS"})
	if _, err := svc.Join(ctx, classroom.ID, "student-1"); err != nil {
		t.Fatal(err)
	}
	session, _ := svc.StartSession(ctx, classroom.ID, "teacher-1", StartSessionInput{})
	first, err := svc.JoinSession(ctx, session.ID, "student-1")
	if err != nil {
		t.Fatal(err)
	}
	firstJoin := first.ParticipantDetails["student-1"].JoinedAt

	left, err := svc.LeaveSession(ctx, session.ID, "student-1")
	if err != nil {
		t.Fatal(err)
	}
	if left.HasParticipant("student-1") {
		t.Error("leaver still in active set")
	}
	detail, ok := left.ParticipantDetails["student-1"]
	if !ok {
		t.Fatal("detail record dropped on leave")
	}
	if detail.IsActive || detail.LeftAt == nil {
		t.Errorf("detail = %+v", detail)
	}

	rejoined, err := svc.JoinSession(ctx, session.ID, "student-1")
	if err != nil {
		t.Fatal(err)
	}
	fresh := rejoined.ParticipantDetails["student-1"]
	if !fresh.IsActive || fresh.LeftAt != nil {
		t.Errorf("rejoin detail = %+v", fresh)
	}
	if !fresh.JoinedAt.After(firstJoin) {
		t.Errorf("rejoin kept old joinedAt %v (first %v)", fresh.JoinedAt, firstJoin)
	}
}

func TestUpdateSessionParticipant(t *testing.T) {
	svc, store := newClassroomService()
	ctx := context.Background()
	seedProfile(t, store, "teacher-1", "Grace", "Hopper", models.RoleTeacher)

	classroom, _ := svc.Create(ctx, "teacher-1", CreateClassroomInput{Name: "Systems", Subject: "CS"})
	session, _ := svc.StartSession(ctx, classroom.ID, "teacher-1", StartSessionInput{})

	video := true
	status := models.ConnectionPoor
	updated, err := svc.UpdateParticipant(ctx, session.ID, "teacher-1", SessionParticipantPatch{
		VideoEnabled:     &video,
		ConnectionStatus: &status,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !updated.VideoEnabled || updated.ConnectionStatus != models.ConnectionPoor {
		t.Errorf("updated = %+v", updated)
	}
	if updated.AudioEnabled {
		t.Error("untouched audio flag changed")
	}

	bad := models.ConnectionStatus("quantum")
	if _, err := svc.UpdateParticipant(ctx, session.ID, "teacher-1", SessionParticipantPatch{ConnectionStatus: &bad}); CodeOf(err) != CodeInvalidArgument {
		t.Errorf("bad status error = %v, want invalid-argument", err)
	}
	if _, err := svc.UpdateParticipant(ctx, session.ID, "stranger", SessionParticipantPatch{VideoEnabled: &video}); CodeOf(err) != CodeFailedPrecondition {
		t.Errorf("stranger error = %v, want failed-precondition", err)
	}
}

func TestListClassrooms(t *testing.T) {
	svc, store := newClassroomService()
	ctx := context.Background()
	seedProfile(t, store, "teacher-1", "Grace", "Hopper", models.RoleTeacher)
	seedProfile(t, store, "teacher-2", "Edsger", "Dijkstra", models.RoleTeacher)
	seedProfile(t, store, "student-1", "Ada", "Lovelace", models.RoleStudent)

	mine, err := svc.Create(ctx, "teacher-1", CreateClassroomInput{Name: "Systems", Subject: "CS"})
	if err != nil {
		t.Fatal(err)
	}
	other, err := svc.Create(ctx, "teacher-2", CreateClassroomInput{Name: "Algorithms", Subject: "CS"})
	if err != nil {
		t.Fatal(err)
	}
	hidden := false
	if _, err := svc.Create(ctx, "teacher-2", CreateClassroomInput{Name: "Private Tutoring", Subject: "CS", IsPublic: &hidden}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Join(ctx, other.ID, "student-1"); err != nil {
		t.Fatal(err)
	}

	t.Run("mine merges teaching and enrolled", func(t *testing.T) {
		list, err := svc.ListMine(ctx, "teacher-1")
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 1 || list[0].ID != mine.ID {
			t.Errorf("teacher list = %+v", list)
		}

		list, err = svc.ListMine(ctx, "student-1")
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 1 || list[0].ID != other.ID {
			t.Errorf("student list = %+v", list)
		}
	})

	t.Run("available hides private", func(t *testing.T) {
		list, err := svc.ListAvailable(ctx, "", 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 2 {
			t.Fatalf("listed %d classrooms, want 2", len(list))
		}
		for _, c := range list {
			if c.Name == "Private Tutoring" {
				t.Error("private classroom listed")
			}
		}
	})
}

func TestSweepOverdueSessions(t *testing.T) {
	svc, store := newClassroomService()
	ctx := context.Background()
	seedProfile(t, store, "teacher-1", "Grace", "Hopper", models.RoleTeacher)

	classroom, _ := svc.Create(ctx, "teacher-1", CreateClassroomInput{Name: "Systems", Subject: "CS"})
	overdue, _ := svc.StartSession(ctx, classroom.ID, "teacher-1", StartSessionInput{Title: "Overdue"})
	fresh, _ := svc.StartSession(ctx, classroom.ID, "teacher-1", StartSessionInput{Title: "Fresh"})

	mutateSession(t, store, overdue.ID, func(s *models.ClassSession) {
		s.StartTime = time.Now().UTC().Add(-5 * time.Hour)
	})

	ended, err := svc.SweepOverdueSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ended != 1 {
		t.Errorf("ended = %d, want 1", ended)
	}

	var swept models.ClassSession
	if err := store.Get(ctx, docstore.CollectionSessions, overdue.ID, &swept); err != nil {
		t.Fatal(err)
	}
	if swept.Status != models.SessionStatusEnded {
		t.Errorf("overdue session status = %q", swept.Status)
	}
	var kept models.ClassSession
	if err := store.Get(ctx, docstore.CollectionSessions, fresh.ID, &kept); err != nil {
		t.Fatal(err)
	}
	if kept.Status != models.SessionStatusLive {
		t.Errorf("fresh session status = %q", kept.Status)
	}
}
