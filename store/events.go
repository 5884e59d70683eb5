package store

import (
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// EventInsert is the only event type the store emits today. The payload
// carries the full inserted record so subscribers never need a read-back.
const EventInsert = "insert"

// MessageEvent is the payload published on a conversation's topic whenever
// a message row is created.
type MessageEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message"`
}

// DecodeMessageEvent parses an event received from Subscribe.
func DecodeMessageEvent(msg *message.Message) (*MessageEvent, error) {
	event := &MessageEvent{}
	if err := json.Unmarshal(msg.Payload, event); err != nil {
		return nil, err
	}
	return event, nil
}

// publishMessageInsert fans the created row out to subscribers. Delivery is
// best effort: a failed publish must not fail the write that caused it.
func (s *Store) publishMessageInsert(created *Message) {
	payload, err := json.Marshal(&MessageEvent{Type: EventInsert, Message: created})
	if err != nil {
		slog.Warn("failed to marshal message event", "error", err)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := s.pubsub.Publish(MessageTopic(created.ConversationID), msg); err != nil {
		slog.Warn("failed to publish message event", "error", err, "message_uid", created.UID)
	}
}
