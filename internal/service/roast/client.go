package roast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/genai"

	"roastchat/internal/logger"
	"roastchat/internal/models"
)

const (
	defaultBaseURL       = "https://generativelanguage.googleapis.com"
	defaultModel         = "gemini-2.5-flash"
	defaultHistoryWindow = 10
	maxResponseBytes     = 4 << 20
)

// Options configure the endpoint and the fixed generation parameters.
type Options struct {
	BaseURL         string
	Model           string
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int32
	HistoryWindow   int
	HTTPClient      *http.Client
	Logger          *logger.Logger
}

// Client sends one generateContent call per reply. It never retries.
type Client struct {
	settings   *Settings
	httpClient *http.Client
	endpoint   string
	model      string
	gen        generationConfig
	safety     []*genai.SafetySetting
	window     int
	log        *logger.Logger
	pick       func(n int) int
}

// NewClient builds a client reading credential and tone from settings.
func NewClient(settings *Settings, opts Options) (*Client, error) {
	if settings == nil {
		return nil, errors.New("settings are required")
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	window := opts.HistoryWindow
	if window <= 0 {
		window = defaultHistoryWindow
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	gen := generationConfig{
		Temperature:     opts.Temperature,
		TopP:            opts.TopP,
		TopK:            opts.TopK,
		MaxOutputTokens: opts.MaxOutputTokens,
	}
	if gen.Temperature <= 0 {
		gen.Temperature = 0.9
	}
	if gen.TopP <= 0 {
		gen.TopP = 0.95
	}
	if gen.TopK <= 0 {
		gen.TopK = 40
	}
	if gen.MaxOutputTokens <= 0 {
		gen.MaxOutputTokens = 256
	}
	return &Client{
		settings:   settings,
		httpClient: httpClient,
		endpoint:   fmt.Sprintf("%s/v1beta/models/%s:generateContent", base, url.PathEscape(model)),
		model:      model,
		gen:        gen,
		safety:     defaultSafetySettings(),
		window:     window,
		log:        log,
		pick:       rand.IntN,
	}, nil
}

// Settings exposes the configuration object the client reads from.
func (c *Client) Settings() *Settings {
	return c.settings
}

// GenerateReply asks the model to roast message given the trailing history.
// An empty tone uses the configured one.
func (c *Client) GenerateReply(ctx context.Context, message string, history []models.Message, tone Tone) (string, error) {
	key, source, ok := c.settings.Credential()
	if !ok {
		return "", ErrMissingCredential
	}
	if tone == "" {
		tone = c.settings.Tone()
	}

	body, err := json.Marshal(c.buildRequest(message, history, tone))
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?key="+url.QueryEscape(key), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug("gemini generateContent", "model", c.model, "tone", tone, "key_source", source, "history", len(history))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = stripURL(err)
		c.log.Warn("gemini request failed", "error", err)
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &TransportError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		te := &TransportError{StatusCode: resp.StatusCode, Message: providerErrorMessage(raw)}
		c.log.Warn("gemini returned error status", "status", resp.StatusCode, "message", te.Message)
		return "", te
	}
	return extractReply(raw)
}

// stripURL drops the request URL, which carries the key, from client errors.
func stripURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}

func (c *Client) buildRequest(message string, history []models.Message, tone Tone) *generateContentRequest {
	if len(history) > c.window {
		history = history[len(history)-c.window:]
	}
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case models.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case models.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		}
	}
	contents = append(contents, genai.NewContentFromText(message, genai.RoleUser))

	gen := c.gen
	return &generateContentRequest{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(systemInstruction(tone, c.pick))},
		},
		Contents:         contents,
		GenerationConfig: &gen,
		SafetySettings:   c.safety,
	}
}

func defaultSafetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	out := make([]*genai.SafetySetting, 0, len(categories))
	for _, cat := range categories {
		out = append(out, &genai.SafetySetting{
			Category:  cat,
			Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
		})
	}
	return out
}

// providerErrorMessage pulls error.message out of a JSON error body and
// otherwise returns the raw body.
func providerErrorMessage(raw []byte) string {
	var parsed providerError
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

func extractReply(raw []byte) (string, error) {
	var resp generateContentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEmptyResponse, err)
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", ErrSafetyBlocked
		}
		return "", ErrEmptyResponse
	}
	first := resp.Candidates[0]
	if first.FinishReason == genai.FinishReasonSafety {
		return "", ErrSafetyBlocked
	}
	if first.Content == nil || len(first.Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(first.Content.Parts[0].Text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
