package store

import "context"

// Driver is an interface for a database driver.
type Driver interface {
	Migrate(ctx context.Context) error
	Close() error

	CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error)
	ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error)

	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	DeleteMessages(ctx context.Context, delete *DeleteMessages) error

	GetUserSetting(ctx context.Context, find *FindUserSetting) (*UserSetting, error)
	UpsertUserSetting(ctx context.Context, upsert *UpsertUserSetting) (*UserSetting, error)
}
