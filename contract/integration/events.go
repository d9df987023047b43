// Package integration declares the contracts exchanged between services over the message bus.
// Contracts are flat value types: build them fully, never mutate them afterwards.
package integration

import "github.com/google/uuid"

const (
	TopicUserRegistered    = "identity.user_registered"
	TopicEnrollmentCreated = "enrollment.enrollment_created"
	TopicPaymentConfirmed  = "payments.payment_confirmed"
	TopicPaymentRejected   = "payments.payment_rejected"
)

// UserRegistered is sent by identity as a request; the student service answers with a
// result.ResponseMessage so identity can roll back the account on failure.
type UserRegistered struct {
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
	Email  string    `json:"email"`
}

func (UserRegistered) Topic() string { return TopicUserRegistered }

// EnrollmentCreated announces a new enrollment awaiting payment.
type EnrollmentCreated struct {
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	StudentID    uuid.UUID `json:"student_id"`
	CourseID     uuid.UUID `json:"course_id"`
	Price        float64   `json:"price"`
}

func (EnrollmentCreated) Topic() string { return TopicEnrollmentCreated }

// PaymentConfirmed is published by payments once a charge settles.
type PaymentConfirmed struct {
	PaymentID uuid.UUID `json:"payment_id"`
	StudentID uuid.UUID `json:"student_id"`
	CourseID  uuid.UUID `json:"course_id"`
	Amount    float64   `json:"amount"`
}

func (PaymentConfirmed) Topic() string { return TopicPaymentConfirmed }

// PaymentRejected is published by payments when a charge is declined.
type PaymentRejected struct {
	PaymentID uuid.UUID `json:"payment_id"`
	StudentID uuid.UUID `json:"student_id"`
	CourseID  uuid.UUID `json:"course_id"`
	Reason    string    `json:"reason"`
}

func (PaymentRejected) Topic() string { return TopicPaymentRejected }
