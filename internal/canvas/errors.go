package canvas

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

type Kind int

const (
	KindService Kind = iota
	KindAuth
	KindValidation
	KindTransient
	KindMalformedResponse
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth error"
	case KindValidation:
		return "validation error"
	case KindTransient:
		return "transient error"
	case KindMalformedResponse:
		return "malformed response"
	}
	return "service error"
}

var (
	ErrAuth              = errors.New("canvas: auth error")
	ErrValidation        = errors.New("canvas: validation error")
	ErrTransient         = errors.New("canvas: transient error")
	ErrMalformedResponse = errors.New("canvas: malformed response")
	ErrService           = errors.New("canvas: service error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindAuth:
		return ErrAuth
	case KindValidation:
		return ErrValidation
	case KindTransient:
		return ErrTransient
	case KindMalformedResponse:
		return ErrMalformedResponse
	}
	return ErrService
}

// Error is the classified failure of one invocation. It matches the sentinel
// of its Kind under errors.Is and unwraps to the underlying cause.
type Error struct {
	Kind     Kind
	Message  string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("canvas: %s: %s", e.Kind, e.Message)
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" (after %d attempts)", e.Attempts)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind.sentinel() }

func (e *Error) Retryable() bool { return e.Kind == KindTransient }

func malformed(format string, args ...any) *Error {
	return &Error{Kind: KindMalformedResponse, Message: fmt.Sprintf(format, args...)}
}

var (
	authCodes = map[string]bool{
		"AccessDeniedException":       true,
		"UnrecognizedClientException": true,
		"InvalidSignatureException":   true,
		"ExpiredTokenException":       true,
		"MissingAuthenticationToken":  true,
	}
	validationCodes = map[string]bool{
		"ValidationException":       true,
		"ResourceNotFoundException": true,
		"ModelErrorException":       true,
	}
	transientCodes = map[string]bool{
		"ThrottlingException":           true,
		"ServiceQuotaExceededException": true,
		"ModelTimeoutException":         true,
		"ModelNotReadyException":        true,
		"ServiceUnavailableException":   true,
		"InternalServerException":       true,
	}
)

// classify maps an InvokeModel failure onto the error taxonomy.
func classify(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		msg := apiErr.ErrorMessage()
		if msg == "" {
			msg = code
		}
		switch {
		case authCodes[code]:
			return &Error{Kind: KindAuth, Message: msg, Err: err}
		case validationCodes[code]:
			return &Error{Kind: KindValidation, Message: msg, Err: err}
		case transientCodes[code]:
			return &Error{Kind: KindTransient, Message: msg, Err: err}
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		if kind, ok := classifyStatus(respErr.HTTPStatusCode()); ok {
			return &Error{Kind: kind, Message: err.Error(), Err: err}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTransient, Message: "attempt timed out", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTransient, Message: "network timeout", Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &Error{Kind: KindTransient, Message: "connect failed", Err: err}
	}

	return &Error{Kind: KindService, Message: err.Error(), Err: err}
}

func classifyStatus(status int) (Kind, bool) {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth, true
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return KindTransient, true
	case status == http.StatusBadRequest || status == http.StatusNotFound || status == http.StatusUnprocessableEntity:
		return KindValidation, true
	}
	return KindService, false
}
