package enrollment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type courseKey struct {
	student uuid.UUID
	course  uuid.UUID
}

// MemoryStore keeps state in maps. Commits are atomic under a single lock.
type MemoryStore struct {
	mu          sync.RWMutex
	students    map[uuid.UUID]Student
	enrollments map[courseKey]Enrollment
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		students:    make(map[uuid.UUID]Student),
		enrollments: make(map[courseKey]Enrollment),
	}
}

func (s *MemoryStore) Student(_ context.Context, id uuid.UUID) (Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.students[id]
	if !ok {
		return Student{}, ErrNotFound
	}

	return st, nil
}

func (s *MemoryStore) Enrollment(_ context.Context, studentID, courseID uuid.UUID) (Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.enrollments[courseKey{studentID, courseID}]
	if !ok {
		return Enrollment{}, ErrNotFound
	}

	return e, nil
}

func (s *MemoryStore) Begin() UnitOfWork { return &memoryUnit{store: s} }

type memoryUnit struct {
	store    *MemoryStore
	students []Student
	adds     []Enrollment
	updates  []Enrollment
}

func (u *memoryUnit) AddStudent(st Student)         { u.students = append(u.students, st) }
func (u *memoryUnit) AddEnrollment(e Enrollment)    { u.adds = append(u.adds, e) }
func (u *memoryUnit) UpdateEnrollment(e Enrollment) { u.updates = append(u.updates, e) }

func (u *memoryUnit) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := u.store

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range u.students {
		if _, exists := s.students[st.ID]; exists {
			return fmt.Errorf("commit student %s: %w", st.ID, ErrConflict)
		}
	}

	for _, e := range u.adds {
		if _, exists := s.enrollments[courseKey{e.StudentID, e.CourseID}]; exists {
			return fmt.Errorf("commit enrollment %s: %w", e.ID, ErrConflict)
		}
	}

	for _, e := range u.updates {
		if _, exists := s.enrollments[courseKey{e.StudentID, e.CourseID}]; !exists {
			return fmt.Errorf("commit enrollment %s: %w", e.ID, ErrNotFound)
		}
	}

	now := time.Now().UTC()

	for _, st := range u.students {
		if st.CreatedAt.IsZero() {
			st.CreatedAt = now
		}

		s.students[st.ID] = st
	}

	for _, e := range u.adds {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}

		e.UpdatedAt = now
		s.enrollments[courseKey{e.StudentID, e.CourseID}] = e
	}

	for _, e := range u.updates {
		e.UpdatedAt = now
		s.enrollments[courseKey{e.StudentID, e.CourseID}] = e
	}

	u.students, u.adds, u.updates = nil, nil, nil

	return nil
}
