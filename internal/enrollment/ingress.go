package enrollment

import (
	"log/slog"

	cbus "github.com/next-trace/scg-edu-bus/contract/bus"
	"github.com/next-trace/scg-edu-bus/contract/integration"
	"github.com/next-trace/scg-edu-bus/ingress"
	"github.com/next-trace/scg-edu-bus/messagebus"
)

// PaymentConfirmedCommand translates a settled payment into the local activation command.
func PaymentConfirmedCommand(evt integration.PaymentConfirmed) (cbus.Command, error) {
	return NewUpdateEnrollmentPayment(evt.StudentID, evt.CourseID), nil
}

// UserRegisteredCommand translates an identity registration into RegisterStudent.
func UserRegisteredCommand(evt integration.UserRegistered) (cbus.Command, error) {
	return NewRegisterStudent(evt.UserID, evt.Name, evt.Email), nil
}

// NewPaymentConsumer subscribes to PaymentConfirmed on the shared subscription in opts.
func NewPaymentConsumer(client *messagebus.Client, d cbus.Dispatcher, opts cbus.SubscribeOptions, logger *slog.Logger) *ingress.Consumer[integration.PaymentConfirmed] {
	return ingress.NewConsumer[integration.PaymentConfirmed](client, d, PaymentConfirmedCommand, opts,
		ingress.WithLogger[integration.PaymentConfirmed](logger),
		ingress.WithKey(func(e integration.PaymentConfirmed) string { return e.StudentID.String() }),
	)
}

// NewRegistrationResponder answers UserRegistered requests with the registration outcome.
func NewRegistrationResponder(client *messagebus.Client, d cbus.Dispatcher, logger *slog.Logger) *ingress.Responder[integration.UserRegistered] {
	return ingress.NewResponder[integration.UserRegistered](client, d, UserRegisteredCommand,
		ingress.WithLogger[integration.UserRegistered](logger),
		ingress.WithKey(func(e integration.UserRegistered) string { return e.UserID.String() }),
	)
}
