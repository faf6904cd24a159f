package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const streamScanBuffer = 1024 * 1024

// AssistRequest carries the question together with the caller identity the
// model service expects.
type AssistRequest struct {
	Question string `json:"question"`
	UserName string `json:"user_name"`
	OrgName  string `json:"organisation_name"`
}

// AssistResult is the answer of a non-streaming call.
type AssistResult struct {
	Answer    string
	Usage     *Usage
	LatencyMS float64
}

// EventStream yields normalized events from a streaming call. Close aborts
// the underlying HTTP body and is safe to call more than once.
type EventStream interface {
	Recv() (Event, error)
	Close() error
}

// Assistant is the model-service surface the chat layer depends on.
type Assistant interface {
	Assist(ctx context.Context, req AssistRequest) (AssistResult, error)
	AssistStream(ctx context.Context, req AssistRequest) (EventStream, error)
}

// Client talks to the model service over HTTP.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{},
	}
}

func (c *Client) Assist(ctx context.Context, req AssistRequest) (AssistResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.post(ctx, c.baseURL+"/chat_no_stream", req)
	if err != nil {
		return AssistResult{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return AssistResult{}, fmt.Errorf("model service returned status %d", res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return AssistResult{}, fmt.Errorf("failed to read model service response: %w", err)
	}

	ev, ok := normalize(body)
	if !ok || ev.Type != EventComplete {
		return AssistResult{}, fmt.Errorf("unexpected model service response")
	}
	if ev.Answer == "" {
		var raw rawEvent
		_ = json.Unmarshal(body, &raw)
		ev.Answer = raw.Delta
	}

	return AssistResult{Answer: ev.Answer, Usage: ev.Usage, LatencyMS: ev.LatencyMS}, nil
}

func (c *Client) AssistStream(ctx context.Context, req AssistRequest) (EventStream, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	res, err := c.post(ctx, c.baseURL+"/chat", req)
	if err != nil {
		cancel()
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		cancel()
		return nil, fmt.Errorf("model service returned status %d", res.StatusCode)
	}

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), streamScanBuffer)

	return &eventStream{body: res.Body, scanner: scanner, cancel: cancel}, nil
}

func (c *Client) post(ctx context.Context, url string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model service request failed: %w", err)
	}
	return res, nil
}

type eventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
}

// Recv returns the next normalized event, skipping markers and malformed
// lines. io.EOF signals the upstream closed the stream without a complete
// event.
func (s *eventStream) Recv() (Event, error) {
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if ev, ok := normalize(line); ok {
			return ev, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("failed to read model service stream: %w", err)
	}
	return Event{}, io.EOF
}

func (s *eventStream) Close() error {
	s.cancel()
	return s.body.Close()
}
