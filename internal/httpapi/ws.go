package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/agora/internal/protocol"
	"github.com/ent0n29/agora/internal/reliability"
)

const (
	wsReadTimeout     = 120 * time.Second
	wsWriteTimeout    = 10 * time.Second
	wsCriticalTimeout = 600 * time.Millisecond
	wsQueueSize       = 64
)

var errThreadMismatch = errors.New("thread_id does not match connection")

func (s *Server) handleThreadWS(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	if _, err := s.store.Thread(r.Context(), threadID); err != nil {
		s.storeError(w, "thread_not_found", err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, wsQueueSize)
	outbound := make(chan any, wsQueueSize)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		s.runThreadTurns(ctx, threadID, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.ObserveWSWriteError()
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(int64(protocol.MaxContentBytes) * 2)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		parsed, err := protocol.ParseClientMessage(data)
		if err == nil {
			if tid := threadOf(parsed); tid != threadID {
				err = errThreadMismatch
			}
		}
		if err != nil {
			s.send(outbound, protocol.ErrorEvent{
				Type:     protocol.TypeErrorEvent,
				ThreadID: threadID,
				Code:     "invalid_client_message",
				Source:   "gateway",
				Detail:   err.Error(),
			})
			continue
		}

		s.metrics.ObserveWSMessage("inbound", string(messageTypeOf(parsed)), "accepted")
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
}

// runThreadTurns handles inbound messages one at a time so a thread's turns
// are answered in arrival order.
func (s *Server) runThreadTurns(ctx context.Context, threadID string, inbound <-chan any, outbound chan<- any) {
	for msg := range inbound {
		if ctx.Err() != nil {
			continue
		}
		switch m := msg.(type) {
		case protocol.ClientControl:
			s.send(outbound, protocol.SystemEvent{
				Type:     protocol.TypeSystemEvent,
				ThreadID: threadID,
				Code:     "control_ack",
				Detail:   m.Action,
			})
		case protocol.UserMessage:
			res, err := s.turns.Submit(ctx, threadID, m.Content)
			if err != nil {
				code := reliability.Classify(err)
				s.logger.Warn("httpapi: ws turn failed", "thread_id", threadID, "code", code, "error", err)
				s.send(outbound, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					ThreadID:  threadID,
					Code:      "turn_failed",
					Source:    "turns",
					Retryable: code == "timeout" || code == "http_retryable",
					Detail:    err.Error(),
				})
				continue
			}
			s.send(outbound, protocol.MessageAck{
				Type:        protocol.TypeMessageAck,
				ThreadID:    threadID,
				MessageID:   res.UserMessage.ID,
				ClientMsgID: m.ClientMsgID,
				Seq:         res.UserMessage.Seq,
			})
			if ij := res.Interjection; ij != nil {
				s.send(outbound, protocol.Interjection{
					Type:      protocol.TypeInterjection,
					ThreadID:  threadID,
					MessageID: res.Reply.ID,
					Content:   res.Reply.Content,
					Question:  ij.Question,
					Kind:      ij.Kind,
				})
				continue
			}
			s.send(outbound, protocol.AssistantReply{
				Type:      protocol.TypeAssistantReply,
				ThreadID:  threadID,
				MessageID: res.Reply.ID,
				Content:   res.Reply.Content,
			})
		}
	}
}

// send keeps websocket writes on the writer goroutine. Every outbound type
// here is critical, so it waits briefly instead of dropping.
func (s *Server) send(outbound chan<- any, msg any) {
	msgType := string(messageTypeOf(msg))
	timer := time.NewTimer(wsCriticalTimeout)
	defer timer.Stop()
	select {
	case outbound <- msg:
		s.metrics.ObserveWSMessage("outbound", msgType, "delivered")
	case <-timer.C:
		s.metrics.ObserveWSMessage("outbound", msgType, "timeout")
	}
}

func threadOf(v any) string {
	switch m := v.(type) {
	case protocol.UserMessage:
		return m.ThreadID
	case protocol.ClientControl:
		return m.ThreadID
	default:
		return ""
	}
}

func messageTypeOf(v any) protocol.MessageType {
	switch m := v.(type) {
	case protocol.UserMessage:
		return m.Type
	case protocol.ClientControl:
		return m.Type
	case protocol.MessageAck:
		return m.Type
	case protocol.AssistantReply:
		return m.Type
	case protocol.Interjection:
		return m.Type
	case protocol.SystemEvent:
		return m.Type
	case protocol.ErrorEvent:
		return m.Type
	default:
		return "unknown"
	}
}
