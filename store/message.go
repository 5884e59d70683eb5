package store

// Role is the author of a message turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one persisted turn of a conversation. The content string is
// opaque to the store; the codec in ai/content decides its shape.
// Messages are immutable once created and only ever deleted in bulk.
type Message struct {
	ID             int32  `json:"id"`
	UID            string `json:"uid"`
	ConversationID int32  `json:"conversation_id"`
	Role           Role   `json:"role"`
	Content        string `json:"content"`
	Model          string `json:"model,omitempty"`
	CreatedTs      int64  `json:"created_ts"`
}

type FindMessage struct {
	ID             *int32
	UID            *string
	ConversationID *int32
}

// DeleteMessages clears every message of one conversation. There is no
// single-message delete on purpose.
type DeleteMessages struct {
	ConversationID int32
}
