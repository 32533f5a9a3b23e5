package failover

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chatrelay/internal/apierrors"
	"github.com/ternarybob/chatrelay/internal/models"
)

func testLogger() arbor.ILogger { return arbor.NewLogger() }

func TestRunReturnsFirstSuccessWithoutTryingLaterCandidates(t *testing.T) {
	var tried []string
	attempt := func(ctx context.Context, candidate string) (models.GenerateResult, error) {
		tried = append(tried, candidate)
		if candidate == "webchat" {
			return models.GenerateResult{Text: "ok"}, nil
		}
		return models.GenerateResult{}, errors.New("Timeout waiting for response")
	}

	result, err := Run(context.Background(), []string{"webchat", "webart"}, 2, testLogger(), attempt)

	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	assert.Equal(t, []string{"webchat"}, tried)
}

func TestRunAdvancesAcrossCandidatesOnRetryableError(t *testing.T) {
	attempt := func(ctx context.Context, candidate string) (models.GenerateResult, error) {
		if candidate == "b" {
			return models.GenerateResult{Text: "from-b"}, nil
		}
		return models.GenerateResult{}, errors.New("Timeout talking to upstream")
	}

	result, err := Run(context.Background(), []string{"a", "b", "c"}, 2, testLogger(), attempt)

	require.NoError(t, err)
	assert.Equal(t, "from-b", result.Text)
}

func TestRunExhaustsRetryBudget(t *testing.T) {
	attempts := 0
	attempt := func(ctx context.Context, candidate string) (models.GenerateResult, error) {
		attempts++
		return models.GenerateResult{}, errors.New("Timeout")
	}

	_, err := Run(context.Background(), []string{"a", "b", "c", "d"}, 1, testLogger(), attempt)

	require.Error(t, err)
	taxErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.CodeFailoverExhausted, taxErr.Code)
	assert.Equal(t, 2, attempts, "maxRetries=1 means effective budget of 2 retryable attempts")
}

func TestRunNonRetryableErrorAdvancesWithoutConsumingBudget(t *testing.T) {
	var tried []string
	attempt := func(ctx context.Context, candidate string) (models.GenerateResult, error) {
		tried = append(tried, candidate)
		switch candidate {
		case "a":
			return models.GenerateResult{}, errors.New("INVALID_MODEL: unsupported")
		case "b":
			return models.GenerateResult{Text: "ok-from-b"}, nil
		}
		return models.GenerateResult{}, errors.New("unreachable")
	}

	// maxRetries=0 means "try every candidate once"; the non-retryable result
	// on "a" does not consume the budget, and the walk advances to "b".
	result, err := Run(context.Background(), []string{"a", "b"}, 0, testLogger(), attempt)

	require.NoError(t, err)
	assert.Equal(t, "ok-from-b", result.Text)
	assert.Equal(t, []string{"a", "b"}, tried)
}

func TestRunNoCandidatesReturnsInvalidModel(t *testing.T) {
	_, err := Run(context.Background(), nil, 1, testLogger(), func(ctx context.Context, candidate string) (models.GenerateResult, error) {
		return models.GenerateResult{}, nil
	})

	taxErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.CodeInvalidModel, taxErr.Code)
}

func TestRunWithCallbackInvokesOnRetryPerFailedAttempt(t *testing.T) {
	var seen []string
	onRetry := func(candidate string, err error, attemptIndex int) {
		seen = append(seen, fmt.Sprintf("%s:%d", candidate, attemptIndex))
	}

	attempt := func(ctx context.Context, candidate string) (models.GenerateResult, error) {
		if candidate == "c" {
			return models.GenerateResult{Text: "done"}, nil
		}
		return models.GenerateResult{}, errors.New("Timeout")
	}

	_, err := RunWithCallback(context.Background(), []string{"a", "b", "c"}, 3, testLogger(), attempt, onRetry)

	require.NoError(t, err)
	assert.Equal(t, []string{"a:0", "b:1"}, seen)
}

func TestRunRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, []string{"a", "b"}, 1, testLogger(), func(ctx context.Context, candidate string) (models.GenerateResult, error) {
		t.Fatal("attempt should not run once context is already cancelled")
		return models.GenerateResult{}, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}
