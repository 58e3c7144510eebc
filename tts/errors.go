package tts

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrSynthesis matches every *SynthesisError via errors.Is.
	ErrSynthesis = errors.New("speech synthesis failed")

	// ErrCatalogUnavailable is returned when voices cannot be listed and
	// nothing has been cached yet.
	ErrCatalogUnavailable = errors.New("voice catalog unavailable")
)

// pitchUnsupportedMessage is what the provider says when a voice rejects
// non-zero pitch.
const pitchUnsupportedMessage = "does not support pitch"

// SynthesisError is a provider failure with its gRPC status code.
type SynthesisError struct {
	Code    codes.Code
	Message string
	Cause   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed (%s): %s", e.Code, e.Message)
}

func (e *SynthesisError) Unwrap() error {
	return e.Cause
}

func (e *SynthesisError) Is(target error) bool {
	return target == ErrSynthesis
}

// Retryable reports whether the failure is transient on the provider side.
func (e *SynthesisError) Retryable() bool {
	switch e.Code {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

// newSynthesisError maps a gRPC error into a SynthesisError.
func newSynthesisError(err error) *SynthesisError {
	st, ok := status.FromError(err)
	if !ok {
		return &SynthesisError{Code: codes.Unknown, Message: err.Error(), Cause: err}
	}
	return &SynthesisError{Code: st.Code(), Message: st.Message(), Cause: err}
}

func errorCode(err error) (codes.Code, string, bool) {
	var se *SynthesisError
	if errors.As(err, &se) {
		return se.Code, se.Message, true
	}
	if st, ok := status.FromError(err); ok && err != nil {
		return st.Code(), st.Message(), true
	}
	return codes.OK, "", false
}

// IsPitchUnsupported reports whether the provider refused the request because
// the selected voice cannot change pitch.
func IsPitchUnsupported(err error) bool {
	code, msg, ok := errorCode(err)
	return ok && code == codes.InvalidArgument &&
		strings.Contains(strings.ToLower(msg), pitchUnsupportedMessage)
}

// IsUnauthenticated reports whether the provider rejected the bearer token.
func IsUnauthenticated(err error) bool {
	code, _, ok := errorCode(err)
	return ok && code == codes.Unauthenticated
}
