package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// ErrorKind tells callers whether a failure is worth retrying.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransient
	KindPermanent
	KindInvalidInput
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

var (
	ErrProcessingFailed  = errors.New("document processing failed on the remote side")
	ErrProcessingTimeout = errors.New("document is still processing")
	ErrEmptyMessage      = errors.New("message is empty")
)

// Error is a remote call failure tagged with its kind.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError tags err with an explicit kind.
func NewError(op string, kind ErrorKind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf classifies any error returned by this package or the remote SDK.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var tagged *Error
	if errors.As(err, &tagged) && tagged.Kind != KindUnknown {
		return tagged.Kind
	}
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return KindInvalidInput
	case errors.Is(err, ErrProcessingFailed):
		return KindPermanent
	case errors.Is(err, ErrProcessingTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	case errors.Is(err, context.Canceled):
		return KindPermanent
	}
	if code, ok := apiErrorCode(err); ok {
		return kindForStatus(code)
	}
	return KindTransient
}

// classify wraps err with op and the kind KindOf would report.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return err
	}
	return &Error{Op: op, Kind: KindOf(err), Err: err}
}

func apiErrorCode(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, true
	}
	return 0, false
}

func kindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return KindTransient
	case code == http.StatusBadRequest, code == http.StatusRequestEntityTooLarge, code == http.StatusUnsupportedMediaType:
		return KindInvalidInput
	case code >= 400:
		return KindPermanent
	default:
		return KindTransient
	}
}
