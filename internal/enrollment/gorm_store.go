package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Open connects to postgres or sqlite and pings the pool.
func Open(ctx context.Context, driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("open %s: unsupported driver", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}

	sqlDB.SetConnMaxIdleTime(15 * time.Minute)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	return db, nil
}

type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{db: db} }

// Migrate creates or updates the students and enrollments tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Student{}, &Enrollment{}); err != nil {
		return fmt.Errorf("migrate enrollment schema: %w", err)
	}

	return nil
}

func (s *GormStore) Student(ctx context.Context, id uuid.UUID) (Student, error) {
	var st Student
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&st).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Student{}, ErrNotFound
		}

		return Student{}, err
	}

	return st, nil
}

func (s *GormStore) Enrollment(ctx context.Context, studentID, courseID uuid.UUID) (Enrollment, error) {
	var e Enrollment

	err := s.db.WithContext(ctx).
		Where("student_id = ? AND course_id = ?", studentID, courseID).
		First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Enrollment{}, ErrNotFound
		}

		return Enrollment{}, err
	}

	return e, nil
}

func (s *GormStore) Begin() UnitOfWork { return &gormUnit{db: s.db} }

type gormUnit struct {
	db  *gorm.DB
	ops []func(tx *gorm.DB) error
}

func (u *gormUnit) AddStudent(st Student) {
	u.ops = append(u.ops, func(tx *gorm.DB) error { return tx.Create(&st).Error })
}

func (u *gormUnit) AddEnrollment(e Enrollment) {
	u.ops = append(u.ops, func(tx *gorm.DB) error { return tx.Create(&e).Error })
}

func (u *gormUnit) UpdateEnrollment(e Enrollment) {
	u.ops = append(u.ops, func(tx *gorm.DB) error {
		res := tx.Model(&Enrollment{}).Where("id = ?", e.ID).Updates(map[string]any{
			"status":  e.Status,
			"paid_at": e.PaidAt,
		})
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		return nil
	})
}

// Commit runs every staged write in one transaction; any failure rolls all of them back.
func (u *gormUnit) Commit(ctx context.Context) error {
	if len(u.ops) == 0 {
		return nil
	}

	ops := u.ops
	u.ops = nil

	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, op := range ops {
			if err := op(tx); err != nil {
				return err
			}
		}

		return nil
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("commit: %w: %w", ErrConflict, err)
	default:
		return fmt.Errorf("commit: %w", err)
	}
}
