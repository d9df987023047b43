package errors

// Error codes for the bus contracts. Keep stable; used across adapters, client and dispatcher.
const (
	ErrCodeHandlerExists        = "servicebus.handler_exists"
	ErrCodeHandlerNotFound      = "servicebus.handler_not_found"
	ErrCodeHandlerTypeMismatch  = "servicebus.handler_type_mismatch"
	ErrCodeAsyncNotConfigured   = "servicebus.async_not_configured"
	ErrCodeNotConnected         = "messagebus.not_connected"
	ErrCodePublishFailed        = "messagebus.publish_failed"
	ErrCodeSubscribeFailed      = "messagebus.subscribe_failed"
	ErrCodeRequestFailed        = "messagebus.request_failed"
	ErrCodeRequestTimeout       = "messagebus.request_timeout"
	ErrCodeRequestUnsupported   = "messagebus.request_unsupported"
	ErrCodeSerializationFailed  = "messagebus.serialization_failed"
	ErrCodeTransportClosed      = "messagebus.transport_closed"
	ErrCodeNoNotificationScope  = "notification.no_scope"
	ErrCodeConfigurationInvalid = "config.invalid"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrHandlerExists        = Code(ErrCodeHandlerExists)
	ErrHandlerNotFound      = Code(ErrCodeHandlerNotFound)
	ErrHandlerTypeMismatch  = Code(ErrCodeHandlerTypeMismatch)
	ErrAsyncNotConfigured   = Code(ErrCodeAsyncNotConfigured)
	ErrNotConnected         = Code(ErrCodeNotConnected)
	ErrPublishFailed        = Code(ErrCodePublishFailed)
	ErrSubscribeFailed      = Code(ErrCodeSubscribeFailed)
	ErrRequestFailed        = Code(ErrCodeRequestFailed)
	ErrRequestTimeout       = Code(ErrCodeRequestTimeout)
	ErrRequestUnsupported   = Code(ErrCodeRequestUnsupported)
	ErrSerializationFailed  = Code(ErrCodeSerializationFailed)
	ErrTransportClosed      = Code(ErrCodeTransportClosed)
	ErrNoNotificationScope  = Code(ErrCodeNoNotificationScope)
	ErrConfigurationInvalid = Code(ErrCodeConfigurationInvalid)
)
