package enrollment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	cbus "github.com/next-trace/scg-edu-bus/contract/bus"
	"github.com/next-trace/scg-edu-bus/contract/integration"
	"github.com/next-trace/scg-edu-bus/servicebus"
)

// Domain failure messages published as notifications.
const (
	MsgStudentNotFound     = "student not found"
	MsgStudentRegistered   = "student already registered"
	MsgEnrollmentNotFound  = "enrollment not found"
	MsgAlreadyEnrolled     = "student already enrolled in course"
	MsgEnrollmentActivated = "enrollment already active"
)

// Service holds the command handlers. Callers must dispatch inside a notification scope.
type Service struct {
	bus    *servicebus.Bus
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(b *servicebus.Bus, store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		bus:    b,
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register binds the enrollment commands on the service's bus.
func (s *Service) Register() error {
	return errors.Join(
		servicebus.BindCommandFunc(s.bus, s.EnrollStudent),
		servicebus.BindCommandFunc(s.bus, s.UpdateEnrollmentPayment),
		servicebus.BindCommandFunc(s.bus, s.RegisterStudent),
	)
}

func (s *Service) EnrollStudent(ctx context.Context, c *EnrollStudent) error {
	res := c.Result()

	if vr := c.Validate(); !vr.IsValid() {
		res.AddValidation(vr)
		return nil
	}

	if _, err := s.store.Student(ctx, c.StudentID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.bus.Notify(ctx, c, "student", MsgStudentNotFound)
		}

		return err
	}

	_, err := s.store.Enrollment(ctx, c.StudentID, c.CourseID)

	switch {
	case err == nil:
		return s.bus.Notify(ctx, c, "enrollment", MsgAlreadyEnrolled)
	case !errors.Is(err, ErrNotFound):
		return err
	}

	e := Enrollment{
		ID:        uuid.New(),
		StudentID: c.StudentID,
		CourseID:  c.CourseID,
		Price:     c.Price,
		Status:    StatusPendingPayment,
	}

	uow := s.store.Begin()
	uow.AddEnrollment(e)

	if err := uow.Commit(ctx); err != nil {
		return err
	}

	res.Succeed(e)

	s.logger.InfoContext(ctx, "student enrolled",
		"module", "enrollment",
		"operation", "enroll_student",
		"enrollment", e.ID,
		"student", e.StudentID,
		"course", e.CourseID,
	)

	return s.bus.PublishIntegration(ctx, integration.EnrollmentCreated{
		EnrollmentID: e.ID,
		StudentID:    e.StudentID,
		CourseID:     e.CourseID,
		Price:        e.Price,
	}, cbus.PublishOptions{Key: e.StudentID.String()})
}

func (s *Service) UpdateEnrollmentPayment(ctx context.Context, c *UpdateEnrollmentPayment) error {
	res := c.Result()

	if vr := c.Validate(); !vr.IsValid() {
		res.AddValidation(vr)
		return nil
	}

	e, err := s.store.Enrollment(ctx, c.StudentID, c.CourseID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.bus.Notify(ctx, c, "enrollment", MsgEnrollmentNotFound)
		}

		return err
	}

	if e.Status == StatusActive {
		return s.bus.Notify(ctx, c, "enrollment", MsgEnrollmentActivated)
	}

	paidAt := s.now()
	e.Status = StatusActive
	e.PaidAt = &paidAt

	uow := s.store.Begin()
	uow.UpdateEnrollment(e)

	if err := uow.Commit(ctx); err != nil {
		return err
	}

	res.Succeed(e)

	return nil
}

func (s *Service) RegisterStudent(ctx context.Context, c *RegisterStudent) error {
	res := c.Result()

	if vr := c.Validate(); !vr.IsValid() {
		res.AddValidation(vr)
		return nil
	}

	_, err := s.store.Student(ctx, c.UserID)

	switch {
	case err == nil:
		return s.bus.Notify(ctx, c, "student", MsgStudentRegistered)
	case !errors.Is(err, ErrNotFound):
		return err
	}

	st := Student{ID: c.UserID, Name: c.Name, Email: c.Email}

	uow := s.store.Begin()
	uow.AddStudent(st)

	if err := uow.Commit(ctx); err != nil {
		if errors.Is(err, ErrConflict) {
			return s.bus.Notify(ctx, c, "student", MsgStudentRegistered)
		}

		return err
	}

	res.Succeed(st)

	return nil
}
