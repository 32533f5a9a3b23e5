package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChatRequestPlainStringContent(t *testing.T) {
	raw := []byte(`{"model":"m-text","messages":[{"role":"user","content":"hello there"}]}`)
	parsed, err := ParseChatRequest(raw)
	require.NoError(t, err)
	assert.True(t, parsed.HasUser)
	assert.Equal(t, "hello there", parsed.Prompt)
	assert.Empty(t, parsed.ImageURIs)
}

func TestParseChatRequestArrayContentWithImage(t *testing.T) {
	raw := []byte(`{"model":"m-img","messages":[{"role":"user","content":[
		{"type":"text","text":"describe this"},
		{"type":"image_url","image_url":{"url":"data:image/png;base64,AAA="}}
	]}]}`)
	parsed, err := ParseChatRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, "describe this", parsed.Prompt)
	require.Len(t, parsed.ImageURIs, 1)
	assert.Equal(t, "data:image/png;base64,AAA=", parsed.ImageURIs[0])
}

func TestParseChatRequestIgnoresNonUserMessages(t *testing.T) {
	raw := []byte(`{"model":"m-text","messages":[
		{"role":"system","content":"be nice"},
		{"role":"assistant","content":"ok"}
	]}`)
	parsed, err := ParseChatRequest(raw)
	require.NoError(t, err)
	assert.False(t, parsed.HasUser)
	// A non-empty messages array with no user message is NO_USER_MESSAGES,
	// not NO_MESSAGES — the two are distinct taxonomy codes.
	assert.True(t, parsed.HasMessages)
}

func TestParseChatRequestUsesLastUserMessage(t *testing.T) {
	raw := []byte(`{"model":"m-text","messages":[
		{"role":"user","content":"first"},
		{"role":"assistant","content":"reply"},
		{"role":"user","content":"second"}
	]}`)
	parsed, err := ParseChatRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, "second", parsed.Prompt)
}

func TestParseChatRequestMalformedJSONErrors(t *testing.T) {
	_, err := ParseChatRequest([]byte(`{not json`))
	assert.Error(t, err)
}

func TestParseChatRequestEmptyMessagesIsValid(t *testing.T) {
	parsed, err := ParseChatRequest([]byte(`{"model":"m-text","messages":[]}`))
	require.NoError(t, err)
	assert.False(t, parsed.HasUser)
	assert.False(t, parsed.HasMessages)
	assert.Empty(t, parsed.Prompt)
}
