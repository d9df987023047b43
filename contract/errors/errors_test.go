package errors_test

import (
	"errors"
	"fmt"
	"testing"

	berr "github.com/next-trace/scg-edu-bus/contract/errors"
)

func TestCodeAndVars(t *testing.T) {
	e := berr.Code(berr.ErrCodePublishFailed)
	if e.Error() != berr.ErrCodePublishFailed {
		t.Fatalf("unexpected error string: %s", e.Error())
	}

	// exported variables must carry their codes
	tests := []struct {
		err  error
		code string
	}{
		{berr.ErrHandlerExists, berr.ErrCodeHandlerExists},
		{berr.ErrHandlerNotFound, berr.ErrCodeHandlerNotFound},
		{berr.ErrHandlerTypeMismatch, berr.ErrCodeHandlerTypeMismatch},
		{berr.ErrAsyncNotConfigured, berr.ErrCodeAsyncNotConfigured},
		{berr.ErrNotConnected, berr.ErrCodeNotConnected},
		{berr.ErrPublishFailed, berr.ErrCodePublishFailed},
		{berr.ErrSubscribeFailed, berr.ErrCodeSubscribeFailed},
		{berr.ErrRequestFailed, berr.ErrCodeRequestFailed},
		{berr.ErrRequestTimeout, berr.ErrCodeRequestTimeout},
		{berr.ErrRequestUnsupported, berr.ErrCodeRequestUnsupported},
		{berr.ErrSerializationFailed, berr.ErrCodeSerializationFailed},
		{berr.ErrTransportClosed, berr.ErrCodeTransportClosed},
		{berr.ErrNoNotificationScope, berr.ErrCodeNoNotificationScope},
		{berr.ErrConfigurationInvalid, berr.ErrCodeConfigurationInvalid},
	}

	for _, tc := range tests {
		if !errors.Is(tc.err, berr.Code(tc.code)) {
			t.Fatalf("expected %s to be %s", tc.err, tc.code)
		}
	}
}

func TestCodeSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("publish orders: %w", errors.Join(berr.ErrNotConnected, errors.New("dial tcp: refused")))
	if !errors.Is(err, berr.ErrNotConnected) {
		t.Fatalf("wrapped error lost its code: %v", err)
	}

	if errors.Is(err, berr.ErrRequestTimeout) {
		t.Fatalf("unexpected code match: %v", err)
	}
}
