package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeUserMessage    MessageType = "user_message"
	TypeClientControl  MessageType = "client_control"
	TypeMessageAck     MessageType = "message_ack"
	TypeAssistantReply MessageType = "assistant_reply"
	TypeInterjection   MessageType = "interjection"
	TypeSystemEvent    MessageType = "system_event"
	TypeErrorEvent     MessageType = "error_event"
)

// MaxContentBytes bounds a single participant message.
const MaxContentBytes = 16 << 10

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type UserMessage struct {
	Type        MessageType `json:"type"`
	ThreadID    string      `json:"thread_id"`
	ClientMsgID string      `json:"client_msg_id,omitempty"`
	Content     string      `json:"content"`
}

type ClientControl struct {
	Type     MessageType `json:"type"`
	ThreadID string      `json:"thread_id"`
	Action   string      `json:"action"`
}

type MessageAck struct {
	Type        MessageType `json:"type"`
	ThreadID    string      `json:"thread_id"`
	MessageID   string      `json:"message_id"`
	ClientMsgID string      `json:"client_msg_id,omitempty"`
	Seq         int64       `json:"seq"`
}

type AssistantReply struct {
	Type      MessageType `json:"type"`
	ThreadID  string      `json:"thread_id"`
	MessageID string      `json:"message_id"`
	Content   string      `json:"content"`
}

// Interjection carries a cross-pollination question in place of a reply.
type Interjection struct {
	Type      MessageType `json:"type"`
	ThreadID  string      `json:"thread_id"`
	MessageID string      `json:"message_id"`
	Content   string      `json:"content"`
	Question  string      `json:"question"`
	Kind      string      `json:"kind"`
}

type SystemEvent struct {
	Type     MessageType `json:"type"`
	ThreadID string      `json:"thread_id"`
	Code     string      `json:"code"`
	Detail   string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	ThreadID  string      `json:"thread_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeUserMessage:
		var msg UserMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Content = strings.TrimSpace(msg.Content)
		if msg.ThreadID == "" || msg.Content == "" {
			return nil, errors.New("invalid user_message")
		}
		if len(msg.Content) > MaxContentBytes {
			return nil, errors.New("user_message content too large")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ThreadID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
