package admission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chatrelay/internal/adapter"
	"github.com/ternarybob/chatrelay/internal/apierrors"
	"github.com/ternarybob/chatrelay/internal/instance"
	"github.com/ternarybob/chatrelay/internal/models"
	"github.com/ternarybob/chatrelay/internal/pool"
	"github.com/ternarybob/chatrelay/internal/registry"
	"github.com/ternarybob/chatrelay/internal/worker"
)

func testLogger() arbor.ILogger { return arbor.NewLogger() }

func newTestPool(t *testing.T) *pool.Pool {
	t.Helper()
	webchat := adapter.NewWebChat([]models.ModelDescriptor{
		{ID: "m-text", UpstreamID: "gpt-chat", Modality: models.ModalityText, ImagePolicy: models.ImagePolicyForbidden, AdapterType: "webchat"},
	}, testLogger(), "Web Chat")
	webart := adapter.NewWebArt([]models.ModelDescriptor{
		{ID: "m-img", UpstreamID: "diffusion-v1", Modality: models.ModalityImage, ImagePolicy: models.ImagePolicyRequired, AdapterType: "webart"},
	}, testLogger(), "Web Art")
	reg, err := registry.New(webchat, webart)
	require.NoError(t, err)

	inst := instance.New(instance.Config{Name: "inst"}, testLogger())
	w1 := worker.New(worker.Config{Name: "w1", Kind: worker.KindSingle, Types: []string{"webchat"}}, reg, inst, testLogger())
	w2 := worker.New(worker.Config{Name: "w2", Kind: worker.KindSingle, Types: []string{"webart"}}, reg, inst, testLogger())

	return pool.New(pool.Config{Strategy: pool.StrategyLeastBusy}, []*worker.Worker{w1, w2}, testLogger())
}

func TestAdmitRejectsEmptyMessages(t *testing.T) {
	a := New(Config{QueueBuffer: 2, TempDir: t.TempDir()}, newTestPool(t), testLogger())

	_, apiErr := a.Admit(contextForTest(t), &ParsedPrompt{Model: "m-text"})
	require.NotNil(t, apiErr)
	assert.Equal(t, apierrors.CodeNoMessages, apiErr.Code)
}

func TestAdmitRejectsNoUserMessage(t *testing.T) {
	a := New(Config{QueueBuffer: 2, TempDir: t.TempDir()}, newTestPool(t), testLogger())

	_, apiErr := a.Admit(contextForTest(t), &ParsedPrompt{Model: "m-text", HasMessages: true, Prompt: "hi", HasUser: false})
	require.NotNil(t, apiErr)
	assert.Equal(t, apierrors.CodeNoUserMessages, apiErr.Code)
}

func TestAdmitRejectsTooManyImages(t *testing.T) {
	a := New(Config{ImageLimit: 1, QueueBuffer: 2, TempDir: t.TempDir()}, newTestPool(t), testLogger())

	_, apiErr := a.Admit(contextForTest(t), &ParsedPrompt{
		Model: "m-img", HasMessages: true, HasUser: true,
		ImageURIs: []string{"data:image/png;base64,AAA=", "data:image/png;base64,BBB="},
	})
	require.NotNil(t, apiErr)
	assert.Equal(t, apierrors.CodeTooManyImages, apiErr.Code)
}

func TestAdmitRejectsImagesForbiddenModel(t *testing.T) {
	a := New(Config{QueueBuffer: 2, TempDir: t.TempDir()}, newTestPool(t), testLogger())

	_, apiErr := a.Admit(contextForTest(t), &ParsedPrompt{
		Model: "m-text", HasMessages: true, HasUser: true, Prompt: "hi",
		ImageURIs: []string{"data:image/png;base64,AAA="},
	})
	require.NotNil(t, apiErr)
	assert.Equal(t, apierrors.CodeImageForbidden, apiErr.Code)
}

func TestAdmitRejectsImageRequiredModelWithoutImage(t *testing.T) {
	a := New(Config{QueueBuffer: 2, TempDir: t.TempDir()}, newTestPool(t), testLogger())

	_, apiErr := a.Admit(contextForTest(t), &ParsedPrompt{Model: "m-img", HasMessages: true, HasUser: true, Prompt: "draw a cat"})
	require.NotNil(t, apiErr)
	assert.Equal(t, apierrors.CodeImageRequired, apiErr.Code)
}

func TestAdmitAcceptsValidRequestAndEnqueues(t *testing.T) {
	a := New(Config{QueueBuffer: 2, TempDir: t.TempDir()}, newTestPool(t), testLogger())

	task, apiErr := a.Admit(contextForTest(t), &ParsedPrompt{Model: "m-text", HasMessages: true, HasUser: true, Prompt: "hi"})
	require.Nil(t, apiErr)
	require.NotNil(t, task)
	assert.Equal(t, 1, a.QueueDepth())
}

func TestAdmitEnforcesRateLimit(t *testing.T) {
	a := New(Config{QueueBuffer: 5, TempDir: t.TempDir(), RateLimitPerSecond: 1, RateLimitBurst: 1}, newTestPool(t), testLogger())

	_, first := a.Admit(contextForTest(t), &ParsedPrompt{Model: "m-text", HasMessages: true, HasUser: true, Prompt: "one"})
	require.Nil(t, first)

	_, second := a.Admit(contextForTest(t), &ParsedPrompt{Model: "m-text", HasMessages: true, HasUser: true, Prompt: "two"})
	require.NotNil(t, second)
	assert.Equal(t, apierrors.CodeServerBusy, second.Code)
}

func TestAdmitRejectsWhenQueueFullForNonStreamingRequest(t *testing.T) {
	// Pool has 2 Workers and QueueBuffer is 0, so inFlight (busy+queued) must
	// reach pool.Size() before a non-streaming request is refused. Since the
	// dispatch loop isn't running in this test, enqueued tasks stay pending.
	a := New(Config{QueueBuffer: 0, TempDir: t.TempDir()}, newTestPool(t), testLogger())

	_, first := a.Admit(contextForTest(t), &ParsedPrompt{Model: "m-text", HasMessages: true, HasUser: true, Prompt: "one", Stream: false})
	require.Nil(t, first)

	_, second := a.Admit(contextForTest(t), &ParsedPrompt{Model: "m-text", HasMessages: true, HasUser: true, Prompt: "two", Stream: false})
	require.Nil(t, second)

	_, third := a.Admit(contextForTest(t), &ParsedPrompt{Model: "m-text", HasMessages: true, HasUser: true, Prompt: "three", Stream: false})
	require.NotNil(t, third)
	assert.Equal(t, apierrors.CodeServerBusy, third.Code)
}

func TestCancelRemovesQueuedTask(t *testing.T) {
	a := New(Config{QueueBuffer: 2, TempDir: t.TempDir()}, newTestPool(t), testLogger())

	task, apiErr := a.Admit(contextForTest(t), &ParsedPrompt{Model: "m-text", HasMessages: true, HasUser: true, Prompt: "hi"})
	require.Nil(t, apiErr)

	a.Cancel(task)
	assert.Equal(t, 0, a.QueueDepth())
	assert.True(t, task.IsCancelled())
}

func contextForTest(t *testing.T) context.Context {
	t.Helper()
	return context.Background()
}
