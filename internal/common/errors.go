package common

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds reported in batch summaries, HTTP responses and the result store.
const (
	KindInvalidInput                = "invalid_input"
	KindInsufficientData            = "insufficient_data"
	KindInsufficientCorrespondences = "insufficient_correspondences"
	KindEstimationFailure           = "estimation_failure"
	KindInvalidTransform            = "invalid_transform"
	KindCanceled                    = "canceled"
	KindInternal                    = "internal"
)

// InvalidInputError reports a malformed buffer, parameter or descriptor set.
type InvalidInputError struct {
	Op     string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Op == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("%s: invalid input: %s", e.Op, e.Reason)
}

// InsufficientDataError reports an empty input where at least one element is needed,
// e.g. matching against an empty train set.
type InsufficientDataError struct {
	Op     string
	Reason string
}

func (e *InsufficientDataError) Error() string {
	if e.Op == "" {
		return "insufficient data: " + e.Reason
	}
	return fmt.Sprintf("%s: insufficient data: %s", e.Op, e.Reason)
}

// InsufficientCorrespondencesError is returned when fewer point pairs are available than
// a minimal homography sample needs.
type InsufficientCorrespondencesError struct {
	Got  int
	Need int
}

func (e *InsufficientCorrespondencesError) Error() string {
	return fmt.Sprintf("insufficient correspondences: got %d, need at least %d", e.Got, e.Need)
}

// EstimationFailure means RANSAC did not find a model with enough support.
type EstimationFailure struct {
	Inliers  int
	Required int
	Total    int
	Reason   string
}

func (e *EstimationFailure) Error() string {
	if e.Reason != "" {
		return "homography estimation failed: " + e.Reason
	}
	return fmt.Sprintf("homography estimation failed: %d/%d inliers, need %d",
		e.Inliers, e.Total, e.Required)
}

// InvalidTransformError reports a singular or ill-conditioned transform.
type InvalidTransformError struct {
	Reason string
}

func (e *InvalidTransformError) Error() string {
	return "invalid transform: " + e.Reason
}

// NewInvalidInput is shorthand for a formatted InvalidInputError.
func NewInvalidInput(op, format string, args ...any) error {
	return &InvalidInputError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// ErrorKind maps err onto one of the Kind* constants.
func ErrorKind(err error) string {
	var (
		invalidInput *InvalidInputError
		insufficient *InsufficientDataError
		corr         *InsufficientCorrespondencesError
		estimation   *EstimationFailure
		transform    *InvalidTransformError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &invalidInput):
		return KindInvalidInput
	case errors.As(err, &insufficient):
		return KindInsufficientData
	case errors.As(err, &corr):
		return KindInsufficientCorrespondences
	case errors.As(err, &estimation):
		return KindEstimationFailure
	case errors.As(err, &transform):
		return KindInvalidTransform
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}

// IsClientError reports whether err was caused by the caller's input rather than
// by the registration itself.
func IsClientError(err error) bool {
	var invalidInput *InvalidInputError
	return errors.As(err, &invalidInput)
}
