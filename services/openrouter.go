package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"identityforge/config"

	"github.com/cenkalti/backoff/v5"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	defaultMaxTokens   = 4096
	defaultTemperature = 0.7

	maxCapturedBody = 4 << 20
)

// SendOptions overrides sampling parameters for a single call
type SendOptions struct {
	MaxTokens   int
	Temperature *float64
}

// AIResponse is the coach reply plus any structured sections found in it
type AIResponse struct {
	Message          string   `json:"message"`
	Insights         []string `json:"insights"`
	SuggestedValues  []string `json:"suggested_values"`
	SuggestedActions []string `json:"suggested_actions"`
}

// OpenRouterService handles communication with the OpenRouter
// chat-completion API
type OpenRouterService struct {
	cfg     config.LLM
	client  openai.Client
	breaker *gobreaker.CircuitBreaker
	metrics *Metrics
	logger  *zap.Logger
}

// NewOpenRouterService creates a new OpenRouter service. The API key is
// checked on every call, not here.
func NewOpenRouterService(cfg config.LLM, logger *zap.Logger, metrics *Metrics) *OpenRouterService {
	baseURL := cfg.BaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL),
		// retries are handled by complete so 4xx is never repeated
		option.WithMaxRetries(0),
		option.WithMiddleware(captureResponse),
	}
	if cfg.AppURL != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.AppURL))
	}
	if cfg.AppTitle != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.AppTitle))
	}

	s := &OpenRouterService{
		cfg:     cfg,
		client:  openai.NewClient(opts...),
		metrics: metrics,
		logger:  logger,
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openrouter",
		MaxRequests: 1,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.Breaker.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.Breaker.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// a 4xx says nothing about upstream health
			var upstream *UpstreamError
			if errors.As(err, &upstream) {
				return !upstream.Transient() && upstream.StatusCode < 500
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return s
}

// Model returns the upstream model identifier
func (s *OpenRouterService) Model() string {
	return s.cfg.Model
}

// SendMessage sends the user message with the conversation transcript and
// returns the coach reply
func (s *OpenRouterService) SendMessage(ctx context.Context, cc ConversationContext, userMessage string, opts *SendOptions) (*AIResponse, error) {
	maxTokens := defaultMaxTokens
	temperature := defaultTemperature
	if opts != nil {
		if opts.MaxTokens > 0 {
			maxTokens = opts.MaxTokens
		}
		if opts.Temperature != nil {
			temperature = *opts.Temperature
		}
	}

	systemPrompt := BuildSystemPrompt(cc.ConversationType, &cc) + criticalInstructions

	messages := make([]ChatMessage, 0, len(cc.PreviousMessages)+2)
	messages = append(messages, ChatMessage{Role: "system", Content: systemPrompt})
	messages = append(messages, FormatMessagesForAPI(cc.PreviousMessages)...)
	messages = append(messages, ChatMessage{Role: "user", Content: userMessage})

	text, err := s.complete(ctx, "send_message", messages, maxTokens, temperature)
	if err != nil {
		s.logger.Error("chat completion failed",
			zap.String("conversationID", cc.ConversationID.String()),
			zap.String("conversationType", string(cc.ConversationType)),
			zap.Error(err),
		)
		return nil, err
	}

	parsed := ParseAIResponse(text)
	return &AIResponse{
		Message:          text,
		Insights:         parsed.Insights,
		SuggestedValues:  parsed.SuggestedValues,
		SuggestedActions: parsed.SuggestedActions,
	}, nil
}

// complete runs one logical chat-completion call and returns the trimmed
// reply text. Transport failures and gateway statuses are retried with
// backoff; everything else is returned as is.
func (s *OpenRouterService) complete(ctx context.Context, operation string, messages []ChatMessage, maxTokens int, temperature float64) (string, error) {
	started := time.Now()

	if s.cfg.APIKey == "" {
		s.metrics.observe(operation, "config_error", started)
		return "", ErrMissingAPIKey
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(s.cfg.Model),
		Messages:    toParams(messages),
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(temperature),
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryWait

	attempt := 0
	text, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		text, err := s.attempt(ctx, params)
		if err == nil || !retryable(err) {
			if err != nil {
				return "", backoff.Permanent(err)
			}
			return text, nil
		}
		s.logger.Warn("retrying chat completion",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return "", err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.cfg.MaxRetries+1))

	s.metrics.observe(operation, outcome(err), started)
	return text, err
}

// attempt performs a single upstream round-trip through the breaker
func (s *OpenRouterService) attempt(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	out, err := s.breaker.Execute(func() (interface{}, error) {
		raw := &rawResponse{}
		attemptCtx, cancel := context.WithTimeout(context.WithValue(ctx, rawResponseKey{}, raw), s.cfg.Timeout)
		defer cancel()

		resp, err := s.client.Chat.Completions.New(attemptCtx, params)
		if raw.status != 0 && (raw.status < 200 || raw.status > 299) {
			return nil, &UpstreamError{StatusCode: raw.status, Body: raw.errorBody()}
		}
		if err != nil {
			if raw.status != 0 {
				// 2xx the client could not decode
				if len(bytes.TrimSpace(raw.body)) == 0 {
					return nil, ErrEmptyResponse
				}
				return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
			}
			if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %s", ErrUpstreamTimeout, s.cfg.Timeout)
			}
			return nil, fmt.Errorf("failed to send request to OpenRouter: %w", err)
		}

		if len(resp.Choices) == 0 {
			return nil, ErrEmptyResponse
		}
		text := strings.TrimSpace(resp.Choices[0].Message.Content)
		if text == "" {
			return nil, ErrEmptyResponse
		}
		return text, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		return "", err
	}
	return out.(string), nil
}

type rawResponseKey struct{}

// rawResponse is the status and unparsed body of one upstream answer
type rawResponse struct {
	status int
	body   []byte
}

func (r *rawResponse) errorBody() string {
	if len(bytes.TrimSpace(r.body)) == 0 {
		return http.StatusText(r.status)
	}
	return string(r.body)
}

// captureResponse buffers the response body into the request's rawResponse
// and hands the client an identical copy
func captureResponse(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	resp, err := next(req)
	if err != nil || resp == nil {
		return resp, err
	}
	raw, ok := req.Context().Value(rawResponseKey{}).(*rawResponse)
	if !ok {
		return resp, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCapturedBody))
	resp.Body.Close()
	if err != nil {
		return nil, &url.Error{Op: req.Method, URL: req.URL.String(), Err: err}
	}
	raw.status = resp.StatusCode
	raw.body = body
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

// retryable reports whether err is a transport failure or a gateway status
// worth another attempt
func retryable(err error) bool {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Transient()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var urlErr *url.Error
	var netErr net.Error
	return errors.As(err, &urlErr) || errors.As(err, &netErr)
}

func outcome(err error) string {
	var upstream *UpstreamError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &upstream):
		return "upstream_error"
	case errors.Is(err, ErrEmptyResponse):
		return "empty"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrUpstreamTimeout):
		return "timeout"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "unavailable"
	}
	return "error"
}

func toParams(messages []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
