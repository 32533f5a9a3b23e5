package adapter

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chatrelay/internal/models"
)

// WebArt drives an image-generation UI: optionally upload reference images,
// submit a prompt, wait for the rendered image, and extract it as a data URI.
type WebArt struct {
	descriptors []models.ModelDescriptor
	logger      arbor.ILogger
	displayName string

	promptSelector    string
	submitSelector    string
	uploadSelector    string
	resultImgSelector string
	waitTimeout       time.Duration
	uploadTimeout     time.Duration
}

// NewWebArt constructs an image adapter serving the given model descriptors.
func NewWebArt(descriptors []models.ModelDescriptor, logger arbor.ILogger, displayName string) *WebArt {
	return &WebArt{
		descriptors:       descriptors,
		logger:            logger,
		displayName:       displayName,
		promptSelector:    `textarea[name="prompt"]`,
		submitSelector:    `button[type="submit"]`,
		uploadSelector:    `input[type="file"]`,
		resultImgSelector: `img[data-testid="generated-image"]:last-of-type`,
		waitTimeout:       120 * time.Second,
		uploadTimeout:     60 * time.Second,
	}
}

func (a *WebArt) Type() string        { return "webart" }
func (a *WebArt) DisplayName() string { return a.displayName }

func (a *WebArt) TargetURL(globalCfg, workerCfg map[string]interface{}) string {
	if url, ok := workerCfg["entryURL"].(string); ok && url != "" {
		return url
	}
	if url, ok := globalCfg["entryURL"].(string); ok && url != "" {
		return url
	}
	return "https://art.example.com/"
}

func (a *WebArt) NavigationHandlers() []NavigationHandler {
	return nil
}

func (a *WebArt) Models() []models.ModelDescriptor {
	return a.descriptors
}

func (a *WebArt) resolveModel(modelKey string) *models.ModelDescriptor {
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

func (a *WebArt) Generate(ctx context.Context, sub SubContext, req GenerateRequest) (models.GenerateResult, error) {
	descriptor := a.resolveModel(req.ModelKey)
	if descriptor == nil {
		return models.GenerateResult{}, fmt.Errorf("webart: unknown model %q", req.ModelKey)
	}
	if descriptor.ImagePolicy == models.ImagePolicyRequired && len(req.ImagePaths) == 0 {
		return models.GenerateResult{}, fmt.Errorf("IMAGE_REQUIRED: %s requires a reference image", descriptor.ID)
	}
	if descriptor.ImagePolicy == models.ImagePolicyForbidden && len(req.ImagePaths) > 0 {
		return models.GenerateResult{}, fmt.Errorf("IMAGE_FORBIDDEN: %s does not accept images", descriptor.ID)
	}

	pageCtx := sub.Page.Context()

	if len(req.ImagePaths) > 0 {
		uploadCtx, cancel := context.WithTimeout(pageCtx, a.uploadTimeout)
		err := chromedp.Run(uploadCtx,
			chromedp.WaitVisible(a.uploadSelector, chromedp.ByQuery),
			chromedp.SetUploadFiles(a.uploadSelector, req.ImagePaths, chromedp.ByQuery),
		)
		cancel()
		if err != nil {
			return models.GenerateResult{}, fmt.Errorf("Timeout waiting for reference image upload: %w", err)
		}
	}

	waitCtx, cancel := context.WithTimeout(pageCtx, a.waitTimeout)
	defer cancel()

	var dataURI string
	tasks := chromedp.Tasks{
		chromedp.WaitVisible(a.promptSelector, chromedp.ByQuery),
		chromedp.SendKeys(a.promptSelector, req.Prompt, chromedp.ByQuery),
		chromedp.Click(a.submitSelector, chromedp.ByQuery),
		chromedp.WaitVisible(a.resultImgSelector, chromedp.ByQuery),
		chromedp.AttributeValue(a.resultImgSelector, "src", &dataURI, nil, chromedp.ByQuery),
	}
	if err := chromedp.Run(waitCtx, tasks); err != nil {
		if waitCtx.Err() != nil {
			return models.GenerateResult{}, fmt.Errorf("Timeout waiting for generated image: %w", err)
		}
		return models.GenerateResult{}, fmt.Errorf("PAGE_INVALID: %w", err)
	}

	if !strings.HasPrefix(dataURI, "data:") {
		return models.GenerateResult{}, fmt.Errorf("GENERATION_FAILED: result image was not inline data")
	}
	if _, err := base64.StdEncoding.DecodeString(strings.SplitN(dataURI, ",", 2)[len(strings.SplitN(dataURI, ",", 2))-1]); err != nil {
		a.logger.Debug().Msg("webart: result image payload is not standard base64, passing through raw")
	}

	return models.GenerateResult{Image: dataURI}, nil
}
