package llm

import "encoding/json"

type EventType string

const (
	EventDelta    EventType = "delta"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Usage mirrors the token accounting block the model service attaches to
// its events.
type Usage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
	TotalTokens     int `json:"total_tokens"`
}

// Event is a normalized upstream event. Delta is set for delta events,
// Answer/Usage/LatencyMS for complete events, Err for error events.
type Event struct {
	Type      EventType
	Delta     string
	Answer    string
	Usage     *Usage
	LatencyMS float64
	Err       string
}

// rawEvent covers both naming schemes the model service has shipped:
// "type" vs "message_type" and "answer" vs "llm_answer".
type rawEvent struct {
	Type        string   `json:"type"`
	MessageType string   `json:"message_type"`
	Delta       string   `json:"delta"`
	Answer      string   `json:"answer"`
	LLMAnswer   string   `json:"llm_answer"`
	Usage       *Usage   `json:"usage"`
	LatencyMS   *float64 `json:"latency_ms"`
	Error       string   `json:"error"`
}

// normalize parses one newline-delimited JSON line from the model service.
// It returns ok=false for lines the relay should skip: malformed JSON,
// stream_start and status_update markers, and unknown event types.
func normalize(line []byte) (Event, bool) {
	var raw rawEvent
	if err := json.Unmarshal(line, &raw); err != nil {
		return Event{}, false
	}

	kind := raw.Type
	if kind == "" {
		kind = raw.MessageType
	}

	switch kind {
	case "delta", "stream_delta":
		return Event{Type: EventDelta, Delta: raw.Delta}, true

	case "complete", "stream_end":
		ev := Event{Type: EventComplete}
		ev.Answer = raw.Answer
		if ev.Answer == "" {
			ev.Answer = raw.LLMAnswer
		}
		ev.Usage = raw.Usage
		if raw.LatencyMS != nil {
			ev.LatencyMS = *raw.LatencyMS
		}
		return ev, true

	case "error":
		msg := raw.Error
		if msg == "" {
			msg = "unknown"
		}
		return Event{Type: EventError, Err: msg}, true

	default:
		// stream_start, status_update and anything unrecognized carry no
		// answer text.
		return Event{}, false
	}
}
