// Package failover implements the Failover Executor (C7): given an ordered
// candidate list and an attempt function, it walks candidates applying a
// retry policy and error classification. Grounded on the reference's
// exponential-backoff retry policy (services/crawler/retry.go), reimplemented
// around browser-adapter error strings instead of HTTP status codes since
// this system drives web UIs rather than calling HTTP APIs directly.
package failover

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chatrelay/internal/apierrors"
	"github.com/ternarybob/chatrelay/internal/models"
)

// OnRetry is invoked between attempts for logging/observability.
type OnRetry func(candidate string, err error, attemptIndex int)

// Attempt is the function the executor drives over each candidate.
type Attempt func(ctx context.Context, candidate string) (models.GenerateResult, error)

// classification is the outcome of normalizeError.
type classification struct {
	message   string
	code      apierrors.Code
	retryable bool
}

// normalizeError classifies an adapter-surfaced error string into a stable
// code and a retryable flag. Run counts only retryable failures against the
// retry budget and stops once that budget is used up; a non-retryable
// failure advances to the next candidate without consuming it.
func normalizeError(err error) classification {
	if err == nil {
		return classification{}
	}
	msg := err.Error()

	switch {
	case strings.Contains(msg, "INVALID_MODEL"):
		return classification{msg, apierrors.CodeInvalidModel, false}
	case strings.Contains(msg, "IMAGE_REQUIRED"):
		return classification{msg, apierrors.CodeImageRequired, false}
	case strings.Contains(msg, "IMAGE_FORBIDDEN"):
		return classification{msg, apierrors.CodeImageForbidden, false}
	case strings.Contains(msg, "UNAUTHORIZED"):
		return classification{msg, apierrors.CodeUnauthorized, false}
	case strings.Contains(msg, "recaptcha validation failed"):
		return classification{msg, apierrors.CodeRecaptcha, true}
	case strings.Contains(msg, "Timeout"):
		return classification{msg, apierrors.CodeGenerationFailed, true}
	case strings.Contains(msg, "PAGE_CLOSED"), strings.Contains(msg, "PAGE_CRASHED"), strings.Contains(msg, "PAGE_INVALID"):
		return classification{msg, apierrors.CodeGenerationFailed, true}
	case strings.Contains(msg, "HTTP "):
		return classification{msg, apierrors.CodeGenerationFailed, true}
	default:
		return classification{msg, apierrors.CodeInternalError, true}
	}
}

// Classify translates a raw adapter/attempt error into a taxonomy error,
// reusing the same normalizeError rules Run applies mid-walk. Callers that
// bypass Run entirely — a single candidate, or failover disabled — still
// need the result on the taxonomy before it reaches the response-shaping
// tier, otherwise errors like "recaptcha validation failed" or a page
// timeout fall through to a generic INTERNAL_ERROR instead of RECAPTCHA or
// GENERATION_FAILED. Already-classified errors pass through unchanged.
func Classify(err error) *apierrors.Error {
	if err == nil {
		return nil
	}
	if te, ok := apierrors.As(err); ok {
		return te
	}
	cls := normalizeError(err)
	return apierrors.Wrap(cls.code, cls.message, err)
}

// Run walks candidates, applying attempt in order. Effective attempts are
// min(maxRetries+1, N) when maxRetries > 0, else N (try all candidates
// once). Non-retryable results are skipped (advance to the next, different,
// candidate) without counting against maxRetries. Returns the first success,
// or the last error wrapped as FAILOVER_EXHAUSTED if no candidate succeeded.
func Run(ctx context.Context, candidates []string, maxRetries int, logger arbor.ILogger, attempt Attempt) (models.GenerateResult, error) {
	return RunWithCallback(ctx, candidates, maxRetries, logger, attempt, nil)
}

// RunWithCallback is Run with an optional onRetry hook for callers that want
// to observe each failed attempt (e.g. tests).
func RunWithCallback(ctx context.Context, candidates []string, maxRetries int, logger arbor.ILogger, attempt Attempt, onRetry OnRetry) (models.GenerateResult, error) {
	n := len(candidates)
	if n == 0 {
		return models.GenerateResult{}, apierrors.New(apierrors.CodeInvalidModel, "no candidates")
	}

	effective := n
	if maxRetries > 0 && maxRetries+1 < n {
		effective = maxRetries + 1
	}

	var lastErr error
	retryableAttempts := 0
	for i := 0; i < n && retryableAttempts < effective; i++ {
		candidate := candidates[i]

		select {
		case <-ctx.Done():
			return models.GenerateResult{}, ctx.Err()
		default:
		}

		result, err := attempt(ctx, candidate)
		if err == nil {
			return result, nil
		}

		lastErr = err
		cls := normalizeError(err)

		if logger != nil {
			logger.Debug().
				Str("candidate", candidate).
				Str("code", string(cls.code)).
				Bool("retryable", cls.retryable).
				Err(err).
				Msg("failover: attempt failed")
		}
		if onRetry != nil {
			onRetry(candidate, err, i)
		}

		if cls.retryable {
			retryableAttempts++
		}
		// Non-retryable results still advance to the next candidate
		// (a different adapter may not share the limitation) but do not
		// count against the retry budget.
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no candidates attempted")
	}
	return models.GenerateResult{}, apierrors.Wrap(apierrors.CodeFailoverExhausted,
		fmt.Sprintf("all candidates exhausted: %v", lastErr), lastErr)
}
