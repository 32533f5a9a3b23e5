package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chatrelay/internal/models"
)

// WebChat drives a text-generation chat UI: type prompt, submit, wait for
// the response container to settle, extract it as Markdown.
type WebChat struct {
	descriptors []models.ModelDescriptor
	logger      arbor.ILogger
	displayName string

	promptSelector   string
	submitSelector   string
	responseSelector string
	waitTimeout      time.Duration
}

// NewWebChat constructs a text adapter serving the given model descriptors.
func NewWebChat(descriptors []models.ModelDescriptor, logger arbor.ILogger, displayName string) *WebChat {
	return &WebChat{
		descriptors:      descriptors,
		logger:           logger,
		displayName:      displayName,
		promptSelector:   `textarea[data-testid="prompt-textarea"]`,
		submitSelector:   `button[data-testid="send-button"]`,
		responseSelector: `div[data-message-author-role="assistant"]:last-of-type`,
		waitTimeout:      120 * time.Second,
	}
}

func (a *WebChat) Type() string        { return "webchat" }
func (a *WebChat) DisplayName() string { return a.displayName }

func (a *WebChat) TargetURL(globalCfg, workerCfg map[string]interface{}) string {
	if url, ok := workerCfg["entryURL"].(string); ok && url != "" {
		return url
	}
	if url, ok := globalCfg["entryURL"].(string); ok && url != "" {
		return url
	}
	return "https://chat.example.com/"
}

func (a *WebChat) NavigationHandlers() []NavigationHandler {
	return []NavigationHandler{a.dismissLoginBanner}
}

// dismissLoginBanner is installed as a navigation hook; when the page URL is
// a login page it logs that the session has expired. It performs no page
// input and does not take the page-auth lock.
func (a *WebChat) dismissLoginBanner(ctx context.Context, page PageHandle) {
	url, err := page.URL()
	if err != nil || url == "" {
		return
	}
	if strings.Contains(url, "/auth/login") {
		a.logger.Debug().Str("url", url).Msg("webchat: session expired, login banner expected")
	}
}

func (a *WebChat) Models() []models.ModelDescriptor {
	return a.descriptors
}

// resolveModel finds the descriptor this adapter registered for modelKey,
// accepting either a plain id or an "adapterType/id" qualified form.
func (a *WebChat) resolveModel(modelKey string) *models.ModelDescriptor {
	id := modelKey
	if idx := strings.IndexByte(modelKey, '/'); idx >= 0 && modelKey[:idx] == a.Type() {
		id = modelKey[idx+1:]
	}
	for i := range a.descriptors {
		if a.descriptors[i].ID == id {
			return &a.descriptors[i]
		}
	}
	return nil
}

func (a *WebChat) Generate(ctx context.Context, sub SubContext, req GenerateRequest) (models.GenerateResult, error) {
	descriptor := a.resolveModel(req.ModelKey)
	if descriptor == nil {
		return models.GenerateResult{}, fmt.Errorf("webchat: unknown model %q", req.ModelKey)
	}

	waitCtx, cancel := context.WithTimeout(sub.Page.Context(), a.waitTimeout)
	defer cancel()

	var responseHTML string
	tasks := chromedp.Tasks{
		chromedp.WaitVisible(a.promptSelector, chromedp.ByQuery),
		chromedp.Click(a.promptSelector, chromedp.ByQuery),
		chromedp.SendKeys(a.promptSelector, req.Prompt, chromedp.ByQuery),
		chromedp.Click(a.submitSelector, chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.WaitVisible(a.responseSelector, chromedp.ByQuery),
		chromedp.OuterHTML(a.responseSelector, &responseHTML, chromedp.ByQuery),
	}

	if err := chromedp.Run(waitCtx, tasks); err != nil {
		if waitCtx.Err() != nil {
			return models.GenerateResult{}, fmt.Errorf("Timeout waiting for webchat response: %w", err)
		}
		return models.GenerateResult{}, fmt.Errorf("PAGE_INVALID: %w", err)
	}

	text, err := extractMarkdown(responseHTML)
	if err != nil {
		return models.GenerateResult{}, fmt.Errorf("webchat: failed to convert response: %w", err)
	}

	return models.GenerateResult{Text: text}, nil
}

// extractMarkdown strips the chrome around a response container and renders
// its remaining HTML as Markdown.
func extractMarkdown(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("button, svg").Remove()

	inner, err := doc.Find("body").Html()
	if err != nil {
		inner = html
	}

	converter := md.NewConverter("", true, nil)
	out, err := converter.ConvertString(inner)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
