package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/GeniusYafei/LLM-Assistant-system/internal/service/llm"
)

// StreamEvent is one downstream SSE payload.
type StreamEvent struct {
	Type      string     `json:"type"`
	Delta     string     `json:"delta,omitempty"`
	Answer    string     `json:"answer,omitempty"`
	Usage     *llm.Usage `json:"usage,omitempty"`
	LatencyMS *float64   `json:"latency_ms,omitempty"`
	Error     string     `json:"error,omitempty"`
	MessageID string     `json:"message_id,omitempty"`
}

// StreamMessage relays a streamed model reply to emit while buffering the
// full text. The assistant message is committed only after the stream
// completes and the buffered size passes the admission check.
//
// Errors before anything is emitted (unknown conversation, input quota,
// user-message persistence) are returned so the handler can answer with a
// proper status. Once relaying has started, failures are reported as error
// events and the method returns nil.
func (s *ChatService) StreamMessage(ctx context.Context, userID, conversationID uuid.UUID, in MessageCreate, emit func(StreamEvent) error) error {
	conv, err := s.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return err
	}

	if _, err := s.admitUserMessage(ctx, conv, userID, in); err != nil {
		return err
	}

	stream, err := s.assistant.AssistStream(ctx, llm.AssistRequest{
		Question: in.Content,
		UserName: s.displayName(ctx, userID),
		OrgName:  defaultOrgName,
	})
	if err != nil {
		emitOrLog(emit, StreamEvent{Type: "error", Error: fmt.Sprintf("backend_stream_error: %v", err)})
		return nil
	}
	defer stream.Close()

	var (
		chunks        []string
		receivedDelta bool
		usage         *llm.Usage
		latencyMS     float64
	)

relay:
	for {
		ev, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Upstream closed without a complete event; commit what
				// was buffered.
				break relay
			}
			if ctx.Err() != nil {
				// Client went away; nothing downstream to notify.
				return nil
			}
			emitOrLog(emit, StreamEvent{Type: "error", Error: fmt.Sprintf("backend_stream_error: %v", err)})
			return nil
		}

		switch ev.Type {
		case llm.EventDelta:
			if ev.Delta == "" {
				continue
			}
			chunks = append(chunks, ev.Delta)
			receivedDelta = true
			if err := emit(StreamEvent{Type: "delta", Delta: ev.Delta}); err != nil {
				return nil
			}

		case llm.EventComplete:
			usage = ev.Usage
			latencyMS = ev.LatencyMS
			if ev.Answer != "" && !receivedDelta {
				chunks = append(chunks, ev.Answer)
			}
			complete := StreamEvent{Type: "complete", Usage: usage, LatencyMS: &latencyMS}
			if ev.Answer != "" {
				complete.Answer = ev.Answer
			}
			if err := emit(complete); err != nil {
				return nil
			}
			break relay

		case llm.EventError:
			emitOrLog(emit, StreamEvent{Type: "error", Error: ev.Err})
			return nil
		}
	}

	assistantText := strings.Join(chunks, "")

	msg, err := s.commitAssistantMessage(ctx, conv, userID, assistantText, usage, latencyMS)
	if err != nil {
		var qe *QuotaExceededError
		if errors.As(err, &qe) {
			emitOrLog(emit, StreamEvent{Type: "error", Error: "quota_exceeded_on_assistant_message"})
			return nil
		}
		emitOrLog(emit, StreamEvent{Type: "error", Error: fmt.Sprintf("backend_stream_error: %v", err)})
		return nil
	}

	emitOrLog(emit, StreamEvent{Type: "saved", MessageID: msg.ID.String()})
	return nil
}

func emitOrLog(emit func(StreamEvent) error, ev StreamEvent) {
	if err := emit(ev); err != nil {
		log.Printf("[ChatService] failed to emit %s event: %v", ev.Type, err)
	}
}
