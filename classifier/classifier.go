// Package classifier labels incoming client messages with an OpenAI-compatible
// chat completion endpoint. The model answers with a strict JSON object; the
// engine treats the classifier as opaque and only consumes the parsed result.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/replywatch/replywatch/store"
)

const systemPrompt = `You classify messages from clients in a business support group chat.
Answer with a single JSON object and nothing else:
{"classification": "REQUEST" | "CLARIFICATION" | "SPAM" | "GRATITUDE", "confidence": 0.0-1.0, "reasoning": "short explanation"}

REQUEST: a question or task that needs an answer from the support team.
CLARIFICATION: a follow-up detail to an already asked question.
SPAM: advertising, off-topic chatter, or bot noise.
GRATITUDE: thanks or acknowledgement that needs no reply.`

// Error is returned for any classifier failure: transport, timeout, empty
// completion, or an unparseable/unknown label. The caller drops the message.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("classifier %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result is the parsed classifier verdict.
type Result struct {
	Classification store.Classification `json:"classification"`
	Confidence     float64              `json:"confidence"`
	Model          string               `json:"model"`
	Reasoning      string               `json:"reasoning,omitempty"`
}

// Config configures the classifier client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout int // seconds, default 10
}

// Classifier is the message classification client.
type Classifier interface {
	// Classify labels a message. ctxMessages are the most recent chat
	// messages, oldest first, included to disambiguate short follow-ups.
	Classify(ctx context.Context, text string, ctxMessages []string) (*Result, error)
}

type client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// New creates a classifier backed by an OpenAI-compatible endpoint.
func New(cfg *Config) Classifier {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10
	}

	return &client{
		api:     openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		timeout: time.Duration(timeout) * time.Second,
	}
}

func (c *client) Classify(ctx context.Context, text string, ctxMessages []string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if len(ctxMessages) > 0 {
		var b strings.Builder
		b.WriteString("Recent messages in the chat, oldest first:\n")
		for _, m := range ctxMessages {
			b.WriteString("- ")
			b.WriteString(m)
			b.WriteString("\n")
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: b.String(),
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: "Classify this message:\n" + text,
	})

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		MaxTokens:   256,
		Messages:    messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, &Error{Op: "completion", Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Op: "completion", Err: fmt.Errorf("empty response")}
	}

	result, err := parseResult(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, &Error{Op: "parse", Err: err}
	}
	result.Model = resp.Model

	slog.Debug("message classified",
		"classification", result.Classification,
		"confidence", result.Confidence,
		"duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

// parseResult decodes the model output, tolerating a markdown code fence
// around the JSON object.
func parseResult(content string) (*Result, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	r := &Result{}
	if err := json.Unmarshal([]byte(content), r); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}

	r.Classification = store.Classification(strings.ToUpper(string(r.Classification)))
	if !r.Classification.Valid() {
		return nil, fmt.Errorf("unknown classification: %q", r.Classification)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return nil, fmt.Errorf("confidence out of range: %v", r.Confidence)
	}
	return r, nil
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        20,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}
