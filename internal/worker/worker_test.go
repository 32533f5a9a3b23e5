package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chatrelay/internal/adapter"
	"github.com/ternarybob/chatrelay/internal/instance"
	"github.com/ternarybob/chatrelay/internal/models"
	"github.com/ternarybob/chatrelay/internal/registry"
)

func testLogger() arbor.ILogger { return arbor.NewLogger() }

func newTestWorker(t *testing.T, kind Kind, types []string) *Worker {
	t.Helper()
	webchat := adapter.NewWebChat([]models.ModelDescriptor{
		{ID: "m-text", UpstreamID: "gpt-chat", Modality: models.ModalityText, ImagePolicy: models.ImagePolicyForbidden, AdapterType: "webchat"},
	}, testLogger(), "Web Chat")
	webart := adapter.NewWebArt([]models.ModelDescriptor{
		{ID: "m-img", UpstreamID: "diffusion-v1", Modality: models.ModalityImage, ImagePolicy: models.ImagePolicyOptional, AdapterType: "webart"},
	}, testLogger(), "Web Art")
	reg, err := registry.New(webchat, webart)
	require.NoError(t, err)

	inst := instance.New(instance.Config{Name: "inst"}, testLogger())
	return New(Config{Name: "w", Kind: kind, Types: types}, reg, inst, testLogger())
}

func TestReserveReleaseBusyCounterInvariant(t *testing.T) {
	w := newTestWorker(t, KindSingle, []string{"webchat"})

	assert.Equal(t, 0, w.BusyCount())
	require.True(t, w.Reserve())
	assert.Equal(t, 1, w.BusyCount())

	// A second reserve before release must fail: the invariant is 0 <= n <= 1.
	assert.False(t, w.Reserve())

	w.Release()
	assert.Equal(t, 0, w.BusyCount())
	assert.True(t, w.Reserve())
}

func TestSupportsHonorsMemberTypes(t *testing.T) {
	w := newTestWorker(t, KindMerge, []string{"webchat", "webart"})
	assert.True(t, w.Supports("m-text"))
	assert.True(t, w.Supports("m-img"))
	assert.False(t, w.Supports("does-not-exist"))
}

func TestImagePolicyMergeWorkerUsesSupportingMemberPolicy(t *testing.T) {
	w := newTestWorker(t, KindMerge, []string{"webchat", "webart"})
	// Only webart serves m-img, whose policy is Optional.
	assert.Equal(t, models.ImagePolicyOptional, w.ImagePolicy("m-img"))
}

func TestLockPageAuthIsNonReentrantAndCooperative(t *testing.T) {
	w := newTestWorker(t, KindSingle, []string{"webchat"})

	ctx := context.Background()
	require.NoError(t, w.LockPageAuth(ctx))

	acquired := make(chan struct{})
	go func() {
		// Blocks until UnlockPageAuth runs below.
		_ = w.LockPageAuth(context.Background())
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second LockPageAuth should not succeed while still held")
	case <-time.After(100 * time.Millisecond):
	}

	w.UnlockPageAuth()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("LockPageAuth did not unblock after UnlockPageAuth")
	}
}

func TestLockPageAuthRespectsContextCancellation(t *testing.T) {
	w := newTestWorker(t, KindSingle, []string{"webchat"})
	require.NoError(t, w.LockPageAuth(context.Background())) // hold the lock

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := w.LockPageAuth(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNavigateToMonitorNoOpWithoutMonitorType(t *testing.T) {
	w := newTestWorker(t, KindSingle, []string{"webchat"})
	assert.NoError(t, w.NavigateToMonitor(context.Background(), nil))
}

func TestNavigateToMonitorNoOpWhenBusy(t *testing.T) {
	w := newTestWorker(t, KindMerge, []string{"webchat", "webart"})
	w.cfg.MonitorType = "webart"
	require.True(t, w.Reserve())
	defer w.Release()

	// Busy Workers never get their page redirected out from under an
	// in-flight task.
	assert.NoError(t, w.NavigateToMonitor(context.Background(), nil))
}
