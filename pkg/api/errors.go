package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openconduit/openconduit/pkg/converge"
	"github.com/openconduit/openconduit/pkg/dispatch"
	"github.com/openconduit/openconduit/pkg/pipeline"
	"github.com/openconduit/openconduit/pkg/policy"
	"github.com/openconduit/openconduit/pkg/target"
	"github.com/openconduit/openconduit/pkg/transports"
)

// APIError is the structured error payload every failed request returns.
type APIError struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// Error kinds exposed on the wire.
const (
	KindBadRequest        = "bad_request"
	KindMissingCredential = "missing_credential"
	KindAuthFailure       = "auth_failure"
	KindUnavailable       = "transport_unavailable"
	KindCommandFailed     = "command_failed"
	KindPipelineAborted   = "pipeline_aborted"
	KindConvergenceFailed = "convergence_failed"
	KindPolicyViolation   = "policy_violation"
	KindInternal          = "internal"
)

// BadRequestError builds a 400 error.
func BadRequestError(message, details string) *APIError {
	return &APIError{Code: http.StatusBadRequest, Kind: KindBadRequest, Message: message, Details: details}
}

// fromDomainError maps domain errors onto wire errors. Unrecognized errors
// become 500s.
func fromDomainError(err error) *APIError {
	var abortErr *pipeline.AbortError
	var unitErr *converge.UnitError

	switch {
	case errors.As(err, &abortErr):
		return &APIError{
			Code:    http.StatusConflict,
			Kind:    KindPipelineAborted,
			Message: fmt.Sprintf("pipeline aborted at step %d", abortErr.StepIndex),
			Details: err.Error(),
		}
	case errors.As(err, &unitErr):
		return &APIError{
			Code:    http.StatusConflict,
			Kind:    KindConvergenceFailed,
			Message: fmt.Sprintf("convergence failed on unit %s", unitErr.Unit),
			Details: err.Error(),
		}
	case target.IsMissingCredential(err):
		return &APIError{
			Code:    http.StatusBadRequest,
			Kind:    KindMissingCredential,
			Message: "target resolution failed",
			Details: err.Error(),
		}
	case transports.IsAuthFailure(err):
		return &APIError{
			Code:    http.StatusUnauthorized,
			Kind:    KindAuthFailure,
			Message: "target rejected the credentials",
			Details: err.Error(),
		}
	case dispatch.IsCommandFailure(err):
		return &APIError{
			Code:    http.StatusConflict,
			Kind:    KindCommandFailed,
			Message: "a command exited non-zero",
			Details: err.Error(),
		}
	case isPolicyViolation(err):
		return &APIError{
			Code:    http.StatusForbidden,
			Kind:    KindPolicyViolation,
			Message: "command rejected by policy",
			Details: err.Error(),
		}
	case transports.IsUnavailable(err):
		return &APIError{
			Code:    http.StatusBadGateway,
			Kind:    KindUnavailable,
			Message: "target unreachable",
			Details: err.Error(),
		}
	default:
		return &APIError{
			Code:    http.StatusInternalServerError,
			Kind:    KindInternal,
			Message: "internal error",
			Details: err.Error(),
		}
	}
}

func isPolicyViolation(err error) bool {
	_, ok := err.(*policy.ViolationError)
	return ok
}

// HTTPErrorHandler renders every error as an APIError JSON body.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	switch e := err.(type) {
	case *APIError:
		apiErr = e
	case *echo.HTTPError:
		apiErr = &APIError{
			Code:    e.Code,
			Kind:    KindBadRequest,
			Message: http.StatusText(e.Code),
			Details: fmt.Sprintf("%v", e.Message),
		}
		if e.Code >= 500 {
			apiErr.Kind = KindInternal
		}
	default:
		apiErr = fromDomainError(err)
	}

	if writeErr := c.JSON(apiErr.Code, apiErr); writeErr != nil {
		c.Logger().Error(writeErr)
	}
}
