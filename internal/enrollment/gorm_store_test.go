package enrollment_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/next-trace/scg-edu-bus/internal/enrollment"
)

func openSQLite(t *testing.T) *enrollment.GormStore {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))

	db, err := enrollment.Open(t.Context(), "sqlite", dsn)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	store := enrollment.NewGormStore(db)
	if err := store.Migrate(t.Context()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return store
}

func TestGormStore_CommitMakesWritesVisible(t *testing.T) {
	store := openSQLite(t)

	student := enrollment.Student{ID: uuid.New(), Name: "Ada", Email: "ada@example.org"}
	e := enrollment.Enrollment{ID: uuid.New(), StudentID: student.ID, CourseID: uuid.New(), Price: 499.90, Status: enrollment.StatusPendingPayment}

	uow := store.Begin()
	uow.AddStudent(student)
	uow.AddEnrollment(e)

	if _, err := store.Student(t.Context(), student.ID); !errors.Is(err, enrollment.ErrNotFound) {
		t.Fatalf("staged student visible before commit: %v", err)
	}

	if err := uow.Commit(t.Context()); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := store.Enrollment(t.Context(), student.ID, e.CourseID)
	if err != nil {
		t.Fatalf("enrollment: %v", err)
	}

	if got.ID != e.ID || got.Status != enrollment.StatusPendingPayment {
		t.Fatalf("got=%+v", got)
	}

	paidAt := time.Now().UTC()
	got.Status = enrollment.StatusActive
	got.PaidAt = &paidAt

	uow = store.Begin()
	uow.UpdateEnrollment(got)

	if err := uow.Commit(t.Context()); err != nil {
		t.Fatalf("commit update: %v", err)
	}

	got, err = store.Enrollment(t.Context(), student.ID, e.CourseID)
	if err != nil || got.Status != enrollment.StatusActive || got.PaidAt == nil {
		t.Fatalf("got=%+v err=%v", got, err)
	}
}

func TestGormStore_FailedCommitRollsBack(t *testing.T) {
	store := openSQLite(t)

	student := enrollment.Student{ID: uuid.New(), Name: "Ada", Email: "ada@example.org"}

	uow := store.Begin()
	uow.AddStudent(student)

	if err := uow.Commit(t.Context()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	other := enrollment.Student{ID: uuid.New(), Name: "Grace", Email: "grace@example.org"}

	uow = store.Begin()
	uow.AddStudent(other)
	uow.AddStudent(student)

	if err := uow.Commit(t.Context()); err == nil {
		t.Fatal("duplicate primary key must fail the commit")
	}

	if _, err := store.Student(t.Context(), other.ID); !errors.Is(err, enrollment.ErrNotFound) {
		t.Fatalf("first staged write survived the rollback: %v", err)
	}
}

func TestGormStore_UpdateMissingEnrollment(t *testing.T) {
	store := openSQLite(t)

	uow := store.Begin()
	uow.UpdateEnrollment(enrollment.Enrollment{ID: uuid.New(), Status: enrollment.StatusActive})

	if err := uow.Commit(t.Context()); !errors.Is(err, enrollment.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_CommitIsAllOrNothing(t *testing.T) {
	store := enrollment.NewMemoryStore()
	student := uuid.New()
	course := uuid.New()

	uow := store.Begin()
	uow.AddEnrollment(enrollment.Enrollment{ID: uuid.New(), StudentID: student, CourseID: course, Price: 1, Status: enrollment.StatusPendingPayment})

	if err := uow.Commit(t.Context()); err != nil {
		t.Fatalf("commit: %v", err)
	}

	uow = store.Begin()
	uow.AddStudent(enrollment.Student{ID: student, Name: "Ada", Email: "ada@example.org"})
	uow.AddEnrollment(enrollment.Enrollment{ID: uuid.New(), StudentID: student, CourseID: course, Price: 1})

	if err := uow.Commit(t.Context()); !errors.Is(err, enrollment.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}

	if _, err := store.Student(t.Context(), student); !errors.Is(err, enrollment.ErrNotFound) {
		t.Fatalf("student committed despite conflict: %v", err)
	}
}
