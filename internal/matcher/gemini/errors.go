package gemini

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/genai"

	"github.com/spigell/jobmatch/internal/jobs"
)

// classify maps provider failures onto the matcher error kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	code, status, ok := apiError(err)
	if !ok {
		// Transport failures and attempt timeouts.
		return jobs.Transient(jobs.ErrMatcherUnavailable, op, err)
	}

	switch {
	case code == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED":
		return jobs.Permanent(jobs.ErrMatcherQuotaExhausted, op, err)
	case code == http.StatusNotFound || status == "NOT_FOUND":
		return jobs.Permanent(jobs.ErrMatcherNotFound, op, err)
	case code >= http.StatusInternalServerError:
		return jobs.Transient(jobs.ErrMatcherUnavailable, op, err)
	default:
		return jobs.Permanent(jobs.ErrMatcherUnavailable, op, err)
	}
}

func apiError(err error) (int, string, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Status, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, apiErrPtr.Status, true
	}
	return 0, "", false
}

// unavailable wraps a vector storage failure.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *jobs.Error
	if errors.As(err, &classified) || errors.Is(err, context.Canceled) {
		return err
	}
	return jobs.Transient(jobs.ErrMatcherUnavailable, op, err)
}
