package models

import "time"

type ClassroomStatus string

const (
	ClassroomStatusActive   ClassroomStatus = "active"
	ClassroomStatusInactive ClassroomStatus = "inactive"
	ClassroomStatusArchived ClassroomStatus = "archived"
)

// Classroom is a persistent enrollment group owned by a single teacher. The
// teacher never appears in EnrolledStudents, and CurrentStudents always
// equals len(EnrolledStudents).
type Classroom struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Subject          string          `json:"subject"`
	Description      string          `json:"description,omitempty"`
	TeacherID        string          `json:"teacherId"`
	TeacherName      string          `json:"teacherName"`
	TeacherAvatar    string          `json:"teacherAvatar,omitempty"`
	MaxStudents      int             `json:"maxStudents"`
	CurrentStudents  int             `json:"currentStudents"`
	EnrolledStudents []string        `json:"enrolledStudents"`
	Status           ClassroomStatus `json:"status"`
	IsPublic         bool            `json:"isPublic"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

func (c *Classroom) IsEnrolled(userID string) bool {
	for _, id := range c.EnrolledStudents {
		if id == userID {
			return true
		}
	}
	return false
}

// PublicClassroom replaces the enrolled-student id list with a count for
// discovery listings.
type PublicClassroom struct {
	ID                    string          `json:"id"`
	Name                  string          `json:"name"`
	Subject               string          `json:"subject"`
	Description           string          `json:"description,omitempty"`
	TeacherName           string          `json:"teacherName"`
	TeacherAvatar         string          `json:"teacherAvatar,omitempty"`
	MaxStudents           int             `json:"maxStudents"`
	EnrolledStudentsCount int             `json:"enrolledStudentsCount"`
	Status                ClassroomStatus `json:"status"`
	IsPublic              bool            `json:"isPublic"`
	CreatedAt             time.Time       `json:"createdAt"`
}

func (c *Classroom) Public() PublicClassroom {
	return PublicClassroom{
		ID:                    c.ID,
		Name:                  c.Name,
		Subject:               c.Subject,
		Description:           c.Description,
		TeacherName:           c.TeacherName,
		TeacherAvatar:         c.TeacherAvatar,
		MaxStudents:           c.MaxStudents,
		EnrolledStudentsCount: c.CurrentStudents,
		Status:                c.Status,
		IsPublic:              c.IsPublic,
		CreatedAt:             c.CreatedAt,
	}
}
