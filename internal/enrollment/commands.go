package enrollment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	cbus "github.com/next-trace/scg-edu-bus/contract/bus"
	"github.com/next-trace/scg-edu-bus/contract/result"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// EnrollStudent enrolls a registered student in a course at the given price.
type EnrollStudent struct {
	cbus.BaseCommand
	StudentID uuid.UUID `validate:"required"`
	CourseID  uuid.UUID `validate:"required"`
	Price     float64   `validate:"gt=0"`
}

func NewEnrollStudent(studentID, courseID uuid.UUID, price float64) *EnrollStudent {
	return &EnrollStudent{
		BaseCommand: cbus.NewBaseCommand(studentID),
		StudentID:   studentID,
		CourseID:    courseID,
		Price:       price,
	}
}

func (c *EnrollStudent) Validate() result.ValidationResult { return check(c) }

// UpdateEnrollmentPayment activates the enrollment of a student in a course.
type UpdateEnrollmentPayment struct {
	cbus.BaseCommand
	StudentID uuid.UUID `validate:"required"`
	CourseID  uuid.UUID `validate:"required"`
}

func NewUpdateEnrollmentPayment(studentID, courseID uuid.UUID) *UpdateEnrollmentPayment {
	return &UpdateEnrollmentPayment{
		BaseCommand: cbus.NewBaseCommand(studentID),
		StudentID:   studentID,
		CourseID:    courseID,
	}
}

func (c *UpdateEnrollmentPayment) Validate() result.ValidationResult { return check(c) }

// RegisterStudent creates the local student record for a user registered by identity.
type RegisterStudent struct {
	cbus.BaseCommand
	UserID uuid.UUID `validate:"required"`
	Name   string    `validate:"required,max=200"`
	Email  string    `validate:"required,email"`
}

func NewRegisterStudent(userID uuid.UUID, name, email string) *RegisterStudent {
	return &RegisterStudent{
		BaseCommand: cbus.NewBaseCommand(userID),
		UserID:      userID,
		Name:        strings.TrimSpace(name),
		Email:       strings.ToLower(strings.TrimSpace(email)),
	}
}

func (c *RegisterStudent) Validate() result.ValidationResult { return check(c) }

var (
	_ cbus.Validatable = (*EnrollStudent)(nil)
	_ cbus.Validatable = (*UpdateEnrollmentPayment)(nil)
	_ cbus.Validatable = (*RegisterStudent)(nil)
)

// check runs the struct tags and maps each violation to one failure keyed by field name.
func check(cmd any) result.ValidationResult {
	err := validate.Struct(cmd)
	if err == nil {
		return result.Valid()
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return result.ExceptionFailure(err)
	}

	var vr result.ValidationResult

	for _, fe := range verrs {
		key := fieldKey(fe.Field())
		vr.Add(key, describe(key, fe))
	}

	return vr
}

func describe(key string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return key + " is required"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", key, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", key, fe.Param())
	case "email":
		return key + " must be a valid email address"
	default:
		return fmt.Sprintf("%s failed %s", key, fe.Tag())
	}
}

// fieldKey turns StudentID into student_id.
func fieldKey(name string) string {
	var b strings.Builder

	runes := []rune(name)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 && !(runes[i-1] >= 'A' && runes[i-1] <= 'Z') {
			b.WriteByte('_')
		}

		b.WriteString(strings.ToLower(string(r)))
	}

	return b.String()
}
