package enrollment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("enrollment: record not found")
	ErrConflict = errors.New("enrollment: record conflict")
)

// Repository reads committed state. Missing rows are reported as ErrNotFound.
type Repository interface {
	Student(ctx context.Context, id uuid.UUID) (Student, error)
	Enrollment(ctx context.Context, studentID, courseID uuid.UUID) (Enrollment, error)
}

// UnitOfWork stages writes and applies them atomically on Commit.
// Nothing is visible through the Repository before Commit returns.
type UnitOfWork interface {
	AddStudent(s Student)
	AddEnrollment(e Enrollment)
	UpdateEnrollment(e Enrollment)
	Commit(ctx context.Context) error
}

type Store interface {
	Repository
	Begin() UnitOfWork
}
