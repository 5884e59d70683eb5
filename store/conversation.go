package store

// TitleSource indicates how the conversation title was created.
// - "default": system default ("New Chat" or truncated first message)
// - "user": user-provided title (manual rename)
type TitleSource string

const (
	TitleSourceDefault TitleSource = "default"
	TitleSourceUser    TitleSource = "user"
)

// DefaultTitle is the title given to a conversation before the first
// exchange derives one from the user's opening message.
const DefaultTitle = "New Chat"

type Conversation struct {
	ID          int32
	UID         string
	Title       string
	TitleSource TitleSource
	RowStatus   RowStatus
	CreatedTs   int64
	UpdatedTs   int64
}

type FindConversation struct {
	ID        *int32
	UID       *string
	RowStatus *RowStatus
}

type UpdateConversation struct {
	ID          int32
	Title       *string
	TitleSource *TitleSource
	RowStatus   *RowStatus
	UpdatedTs   *int64
}

type DeleteConversation struct {
	ID int32
}
