package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chatrelay/internal/adapter"
	"github.com/ternarybob/chatrelay/internal/models"
)

func testLogger() arbor.ILogger { return arbor.NewLogger() }

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	webchat := adapter.NewWebChat([]models.ModelDescriptor{
		{ID: "m-text", UpstreamID: "gpt-chat", Modality: models.ModalityText, ImagePolicy: models.ImagePolicyForbidden, AdapterType: "webchat"},
	}, testLogger(), "Web Chat")
	webart := adapter.NewWebArt([]models.ModelDescriptor{
		{ID: "m-img", UpstreamID: "diffusion-v1", Modality: models.ModalityImage, ImagePolicy: models.ImagePolicyOptional, AdapterType: "webart"},
	}, testLogger(), "Web Art")

	reg, err := New(webchat, webart)
	require.NoError(t, err)
	return reg
}

func TestNewRejectsDuplicateAdapterType(t *testing.T) {
	a1 := adapter.NewWebChat(nil, testLogger(), "one")
	a2 := adapter.NewWebChat(nil, testLogger(), "two")

	_, err := New(a1, a2)
	assert.Error(t, err)
}

func TestResolveModelKeyPlainID(t *testing.T) {
	reg := newTestRegistry(t)

	aType, desc := reg.ResolveModelKey("m-text")
	require.NotNil(t, desc)
	assert.Equal(t, "webchat", aType)
	assert.Equal(t, "gpt-chat", desc.UpstreamID)
}

func TestResolveModelKeyQualified(t *testing.T) {
	reg := newTestRegistry(t)

	aType, desc := reg.ResolveModelKey("webart/m-img")
	require.NotNil(t, desc)
	assert.Equal(t, "webart", aType)
	assert.Equal(t, "diffusion-v1", desc.UpstreamID)
}

func TestResolveModelKeyQualifiedWrongTypeFails(t *testing.T) {
	reg := newTestRegistry(t)

	_, desc := reg.ResolveModelKey("webart/m-text")
	assert.Nil(t, desc)
}

func TestSupportsModelHonorsQualifier(t *testing.T) {
	reg := newTestRegistry(t)

	assert.True(t, reg.SupportsModel("webchat", "m-text"))
	assert.True(t, reg.SupportsModel("webchat", "webchat/m-text"))
	assert.False(t, reg.SupportsModel("webart", "webchat/m-text"))
	assert.False(t, reg.SupportsModel("webchat", "m-img"))
}

func TestImagePolicyUnknownModelIsForbidden(t *testing.T) {
	reg := newTestRegistry(t)
	assert.Equal(t, models.ImagePolicyForbidden, reg.ImagePolicy("webchat", "does-not-exist"))
}

func TestAllModelsListsEveryAdapter(t *testing.T) {
	reg := newTestRegistry(t)
	all := reg.AllModels()
	assert.Len(t, all, 2)
}

func TestTargetURLUnknownAdapterTypeErrors(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.TargetURL("does-not-exist", nil, nil)
	assert.Error(t, err)
}

func TestTargetURLPrefersWorkerOverGlobalConfig(t *testing.T) {
	reg := newTestRegistry(t)
	url, err := reg.TargetURL("webchat", map[string]interface{}{"entryURL": "https://global.example.com/"}, map[string]interface{}{"entryURL": "https://worker.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "https://worker.example.com/", url)
}

func TestTypesPreservesRegistrationOrder(t *testing.T) {
	reg := newTestRegistry(t)
	assert.Equal(t, []string{"webchat", "webart"}, reg.Types())
}
