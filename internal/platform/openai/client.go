package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	perrors "github.com/yungbote/autoforge-backend/internal/pkg/errors"
	"github.com/yungbote/autoforge-backend/internal/pkg/httpx"
	"github.com/yungbote/autoforge-backend/internal/observability"
	"github.com/yungbote/autoforge-backend/internal/platform/logger"
)

const (
	// MaxInputTokens bounds the user message on chat calls; the prefix is
	// kept and the tail dropped.
	MaxInputTokens = 4000
	// MaxEmbedChars bounds embedding input length.
	MaxEmbedChars = 8000

	maxAttempts     = 3
	chatBackoffCap  = 15 * time.Second
	embedBackoffCap = 10 * time.Second

	chatTemperature     = 0.3
	chatJSONTemperature = 0.2
)

// Client is the chat + embeddings client used by the context engine and the
// seed CLI. Chat may target any OpenAI-compatible backend; embeddings always
// hit the OpenAI embeddings API.
type Client interface {
	Chat(ctx context.Context, system, user string) (string, error)
	ChatJSON(ctx context.Context, system, user string) (map[string]interface{}, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	ChatBaseURL string
	ChatAPIKey  string
	ChatModel   string

	EmbedBaseURL string
	EmbedAPIKey  string
	EmbedModel   string

	LLMConcurrency       int
	EmbeddingConcurrency int

	TimeoutSeconds int
}

type client struct {
	log *logger.Logger

	chatBaseURL string
	chatAPIKey  string
	chatModel   string

	embedBaseURL string
	embedAPIKey  string
	embedModel   string

	httpClient *http.Client

	llmSem   *semaphore.Weighted
	embedSem *semaphore.Weighted
}

func NewClient(log *logger.Logger, opts Options) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("openai: logger required")
	}
	if strings.TrimSpace(opts.ChatAPIKey) == "" && strings.TrimSpace(opts.EmbedAPIKey) == "" {
		return nil, fmt.Errorf("openai: missing API key")
	}

	chatBase := strings.TrimRight(strings.TrimSpace(opts.ChatBaseURL), "/")
	if chatBase == "" {
		chatBase = "https://api.openai.com"
	}
	embedBase := strings.TrimRight(strings.TrimSpace(opts.EmbedBaseURL), "/")
	if embedBase == "" {
		embedBase = "https://api.openai.com"
	}

	llmConc := opts.LLMConcurrency
	if llmConc <= 0 {
		llmConc = 2
	}
	embedConc := opts.EmbeddingConcurrency
	if embedConc <= 0 {
		embedConc = 2
	}

	timeoutSec := opts.TimeoutSeconds
	if timeoutSec <= 0 {
		timeoutSec = 120
	}

	return &client{
		log:          log.With("client", "OpenAIClient"),
		chatBaseURL:  chatBase,
		chatAPIKey:   strings.TrimSpace(opts.ChatAPIKey),
		chatModel:    strings.TrimSpace(opts.ChatModel),
		embedBaseURL: embedBase,
		embedAPIKey:  strings.TrimSpace(opts.EmbedAPIKey),
		embedModel:   strings.TrimSpace(opts.EmbedModel),
		httpClient:   &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		llmSem:       semaphore.NewWeighted(int64(llmConc)),
		embedSem:     semaphore.NewWeighted(int64(embedConc)),
	}, nil
}

type apiHTTPError struct {
	StatusCode int
	Body       string
}

func (e *apiHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *apiHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// classify maps a transport failure onto the error taxonomy the engine
// understands.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var httpErr *apiHTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", perrors.ErrRateLimited, err)
	}
	if httpx.IsRetryableError(err) {
		return fmt.Errorf("%w: %v", perrors.ErrTransport, err)
	}
	return err
}

func (c *client) doOnce(ctx context.Context, url, apiKey string, body interface{}) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &apiHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

// doWithRetry acquires sem once per attempt and releases it before the
// backoff sleep so other callers can make progress while this one waits.
func (c *client) doWithRetry(ctx context.Context, sem *semaphore.Weighted, url, apiKey string, body, out interface{}, backoffCap time.Duration) error {
	backoff := 1 * time.Second

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		resp, raw, err := c.doOnce(ctx, url, apiKey, body)
		sem.Release(1)

		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("%w: decode api response: %v", perrors.ErrInvalidResponse, uErr)
			}
			return nil
		}

		if !httpx.IsRetryableError(err) || attempt == maxAttempts {
			return classify(err)
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, backoffCap)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("API request retrying",
			"url", url,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

// -------------------- Chat completions --------------------

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionsRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatCompletionsResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *client) chatCompletions(ctx context.Context, system, user string, temperature float64, format *responseFormat) (string, error) {
	req := chatCompletionsRequest{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: c.truncateTokens(user)},
		},
		Temperature:    temperature,
		ResponseFormat: format,
	}

	start := time.Now()
	var resp chatCompletionsResponse
	if err := c.doWithRetry(ctx, c.llmSem, c.chatBaseURL+"/v1/chat/completions", c.chatAPIKey, req, &resp, chatBackoffCap); err != nil {
		observability.Current().ObserveLLMError(c.chatModel, "chat")
		return "", err
	}
	observability.Current().ObserveLLMCall(c.chatModel, "chat", time.Since(start), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: chat response has no choices", perrors.ErrInvalidResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *client) Chat(ctx context.Context, system, user string) (string, error) {
	return c.chatCompletions(ctx, system, user, chatTemperature, nil)
}

func (c *client) ChatJSON(ctx context.Context, system, user string) (map[string]interface{}, error) {
	content, err := c.chatCompletions(ctx, system, user, chatJSONTemperature, &responseFormat{Type: "json_object"})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		content = "{}"
	}
	var obj map[string]interface{}
	if uErr := json.Unmarshal([]byte(content), &obj); uErr != nil {
		return nil, fmt.Errorf("%w: model returned non-JSON object: %v", perrors.ErrInvalidResponse, uErr)
	}
	return obj, nil
}

// -------------------- Embeddings --------------------

type embeddingsRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (c *client) Embed(ctx context.Context, text string) ([]float32, error) {
	runes := []rune(text)
	if len(runes) > MaxEmbedChars {
		text = string(runes[:MaxEmbedChars])
	}
	if strings.TrimSpace(text) == "" {
		text = " "
	}

	req := embeddingsRequest{
		Model: c.embedModel,
		Input: text,
	}

	start := time.Now()
	var resp embeddingsResponse
	if err := c.doWithRetry(ctx, c.embedSem, c.embedBaseURL+"/v1/embeddings", c.embedAPIKey, req, &resp, embedBackoffCap); err != nil {
		observability.Current().ObserveLLMError(c.embedModel, "embedding")
		return nil, err
	}
	observability.Current().ObserveLLMCall(c.embedModel, "embedding", time.Since(start), 0, 0)

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: embeddings response has no data", perrors.ErrInvalidResponse)
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, f := range resp.Data[0].Embedding {
		vec[i] = float32(f)
	}
	return vec, nil
}

// EmbedBatch issues independent concurrent Embed calls and gathers results
// preserving input order. The embedding semaphore still bounds concurrency.
func (c *client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	for i := range texts {
		i := i
		g.Go(func() error {
			vec, err := c.Embed(gctx, texts[i])
			if err != nil {
				return err
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// -------------------- Token estimation --------------------

func estimateTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	runes := []rune(text)
	return int(math.Ceil(float64(len(runes)) / 4.0))
}

func (c *client) truncateTokens(text string) string {
	tokens := estimateTokens(text)
	if tokens <= MaxInputTokens {
		return text
	}
	c.log.Warn("Input truncated",
		"original_tokens", tokens,
		"limit", MaxInputTokens,
	)
	runes := []rune(text)
	return string(runes[:MaxInputTokens*4])
}
