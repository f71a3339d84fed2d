// Package chat opens completion streams against the provider API and
// exposes them as a sequence of aggregator events. Each call opens a
// fresh transport stream; streams are not restartable.
package chat

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/chatpad-dev/chatpad/internal/auth"
	"github.com/chatpad-dev/chatpad/internal/json"
	log "github.com/chatpad-dev/chatpad/internal/logging"
	"github.com/chatpad-dev/chatpad/internal/session"
	"github.com/chatpad-dev/chatpad/internal/sseutil"
	"github.com/chatpad-dev/chatpad/internal/stream"
)

const (
	// scannerBufferSize bounds a single SSE line; completion deltas are
	// small but tool arguments can run long.
	scannerBufferSize = 64 * 1024
	maxLineSize       = 2 * 1024 * 1024

	// Character-based token estimate: roughly four characters per token
	// plus a fixed per-message envelope overhead. A deliberate estimate,
	// not a tokenizer.
	charsPerToken      = 4
	perMessageOverhead = 3
)

// Message is one chat turn sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// ToolCallArgs carries serialized tool-call arguments for assistant
	// turns that invoked tools; counted toward the token estimate.
	ToolCallArgs []string `json:"-"`
}

// Tool describes a capability the model may invoke.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Request parameterizes one completion stream.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []Tool
	ToolChoice  string
	MaxTokens   int
	Temperature *float64
}

// Chunk is one unit delivered on the stream channel. Err is terminal:
// nothing follows it.
type Chunk struct {
	Event stream.Event
	Err   error
}

// TokenSource supplies a valid bearer token, refreshing if needed.
type TokenSource func(ctx context.Context) (*auth.Credential, error)

// Client streams chat completions through the current session.
type Client struct {
	session *session.Session
	tokens  TokenSource
}

// NewClient wires the transport session and token source.
func NewClient(sess *session.Session, tokens TokenSource) *Client {
	return &Client{session: sess, tokens: tokens}
}

// StreamCompletion opens a completion stream and returns its events.
// Text events arrive in stream order as they are received; tool-call
// events arrive only after the transport closes naturally, ordered by
// ascending fragment index. If ctx is cancelled mid-stream the channel
// closes without finalizing partial tool calls.
func (c *Client) StreamCompletion(ctx context.Context, req Request) (<-chan Chunk, error) {
	cred, err := c.tokens(ctx)
	if err != nil {
		return nil, err
	}

	body, err := buildRequestBody(req)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimSuffix(c.session.BaseEndpoint(), "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", bearerValue(cred))

	resp, err := c.session.HTTPClient().Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &auth.TransportError{Endpoint: endpoint, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		return nil, streamOpenError(endpoint, resp.StatusCode, payload)
	}

	out := make(chan Chunk, 16)
	go c.consume(ctx, resp.Body, out)
	return out, nil
}

// consume drains the SSE body, forwarding text immediately and
// finalizing tool calls only after a natural end of stream.
func (c *Client) consume(ctx context.Context, body io.ReadCloser, out chan<- Chunk) {
	defer close(out)

	reader := stream.NewReader(ctx, body)
	defer reader.Close()

	aggregator := stream.NewAggregator()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, scannerBufferSize), maxLineSize)

	drained := false
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if sseutil.IsDoneLine(line) {
			drained = true
			continue
		}
		payload := sseutil.JSONPayload(line)
		if payload == nil {
			continue
		}
		for _, ev := range aggregator.Absorb(parseDelta(payload)) {
			if !send(ctx, out, Chunk{Event: ev}) {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		// An abandoned stream never finalizes accumulators.
		if ctx.Err() == nil {
			send(ctx, out, Chunk{Err: err})
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	if !drained {
		log.Debugf("chat: stream closed without [DONE] marker, treating as drained")
	}

	for _, ev := range aggregator.Finalize() {
		if !send(ctx, out, Chunk{Event: ev}) {
			return
		}
	}
}

func send(ctx context.Context, out chan<- Chunk, chunk Chunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// parseDelta extracts text content and tool-call fragments from one
// completion chunk.
func parseDelta(payload []byte) stream.Delta {
	delta := gjson.GetBytes(payload, "choices.0.delta")
	d := stream.Delta{Text: delta.Get("content").String()}

	delta.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
		frag := stream.Fragment{
			Index:     int(tc.Get("index").Int()),
			Arguments: tc.Get("function.arguments").String(),
		}
		if id := tc.Get("id"); id.Exists() {
			frag.ID = id.String()
			frag.HasID = true
		}
		if name := tc.Get("function.name"); name.Exists() {
			frag.Name = name.String()
			frag.HasName = true
		}
		d.Fragments = append(d.Fragments, frag)
		return true
	})
	return d
}

func buildRequestBody(req Request) ([]byte, error) {
	body := []byte(`{"stream":true}`)
	body, _ = sjson.SetBytes(body, "model", req.Model)

	messages, err := json.Marshal(req.Messages)
	if err != nil {
		return nil, err
	}
	body, _ = sjson.SetRawBytes(body, "messages", messages)

	if req.MaxTokens > 0 {
		body, _ = sjson.SetBytes(body, "max_tokens", req.MaxTokens)
	}
	if req.Temperature != nil {
		body, _ = sjson.SetBytes(body, "temperature", *req.Temperature)
	}
	if len(req.Tools) > 0 {
		wrapped := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			wrapped = append(wrapped, map[string]any{
				"type":     "function",
				"function": t,
			})
		}
		tools, err := json.Marshal(wrapped)
		if err != nil {
			return nil, err
		}
		body, _ = sjson.SetRawBytes(body, "tools", tools)
		if req.ToolChoice != "" {
			body, _ = sjson.SetBytes(body, "tool_choice", req.ToolChoice)
		}
	}
	return body, nil
}

func bearerValue(cred *auth.Credential) string {
	tokenType := cred.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return tokenType + " " + cred.AccessToken
}

func streamOpenError(endpoint string, status int, body []byte) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &auth.AuthorizationError{
			Endpoint:    endpoint,
			Status:      status,
			Code:        gjson.GetBytes(body, "error.code").String(),
			Description: gjson.GetBytes(body, "error.message").String(),
		}
	}
	return &auth.TransportError{Endpoint: endpoint, Status: status, Err: errHTTPStatus(status, body)}
}

type httpStatusError struct {
	status int
	body   string
}

func errHTTPStatus(status int, body []byte) error {
	return &httpStatusError{status: status, body: strings.TrimSpace(string(body))}
}

func (e *httpStatusError) Error() string {
	if e.body == "" {
		return http.StatusText(e.status)
	}
	return e.body
}

// CountTokens estimates the token footprint of a message list: total
// content and tool-argument characters divided by four (rounded up),
// plus a fixed per-message overhead.
func CountTokens(messages []Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
		for _, args := range m.ToolCallArgs {
			chars += len(args)
		}
	}
	tokens := (chars + charsPerToken - 1) / charsPerToken
	return tokens + perMessageOverhead*len(messages)
}
