package admission

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ChatRequest is the wire shape of an incoming OpenAI chat-completions
// request.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages" validate:"omitempty,dive"`
	Stream   bool          `json:"stream"`
}

// ChatMessage is one entry in the messages array; Content may unmarshal as
// either a plain string or an array of content parts.
type ChatMessage struct {
	Role    string          `json:"role" validate:"required"`
	Content json.RawMessage `json:"content"`
}

// ContentPart is one element of an array-form message content.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

// ParsedPrompt is the admission-normalized view of a ChatRequest: the last
// user message's text, and every image data URI across user messages in
// order.
type ParsedPrompt struct {
	Model    string
	Prompt   string
	ImageURIs []string
	// HasMessages reports whether the messages array was present and
	// non-empty, regardless of role. HasUser additionally requires at least
	// one role=user message. The two drive distinct taxonomy codes:
	// NO_MESSAGES vs NO_USER_MESSAGES.
	HasMessages bool
	HasUser     bool
	Stream      bool
}

// ParseChatRequest decodes and validates raw JSON into a ParsedPrompt.
func ParseChatRequest(raw []byte) (*ParsedPrompt, error) {
	var req ChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("malformed request body: %w", err)
	}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}

	parsed := &ParsedPrompt{Model: req.Model, Stream: req.Stream}

	if len(req.Messages) == 0 {
		return parsed, nil
	}
	parsed.HasMessages = true

	var lastUserText string
	for _, msg := range req.Messages {
		if msg.Role != "user" {
			continue
		}
		parsed.HasUser = true

		text, images, err := parseContent(msg.Content)
		if err != nil {
			return nil, err
		}
		if text != "" {
			lastUserText = text
		}
		parsed.ImageURIs = append(parsed.ImageURIs, images...)
	}
	parsed.Prompt = lastUserText

	return parsed, nil
}

// parseContent decodes a message's content field, which may be a plain
// string or an array of {type:"text"|"image_url", ...} parts.
func parseContent(raw json.RawMessage) (text string, images []string, err error) {
	if len(raw) == 0 {
		return "", nil, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil, nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", nil, fmt.Errorf("message content must be a string or an array of parts: %w", err)
	}

	for _, p := range parts {
		switch p.Type {
		case "text":
			text = p.Text
		case "image_url":
			if p.ImageURL != nil && strings.HasPrefix(p.ImageURL.URL, "data:") {
				images = append(images, p.ImageURL.URL)
			}
		}
	}
	return text, images, nil
}
