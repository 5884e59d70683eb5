// Package store provides database access to conversations, messages and
// user settings, and fans out insert events to interested subscribers.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/lithammer/shortuuid/v4"

	"github.com/parleychat/parley/internal/profile"
)

// Store provides database access to all raw objects. Every message insert
// is additionally published on the conversation's event topic so that open
// sessions can reconcile writes they did not issue themselves.
type Store struct {
	profile *profile.Profile
	driver  Driver
	pubsub  *gochannel.GoChannel
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, watermill.NopLogger{})

	return &Store{
		driver:  driver,
		profile: profile,
		pubsub:  pubsub,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	if err := s.pubsub.Close(); err != nil {
		return err
	}
	return s.driver.Close()
}

func (s *Store) CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error) {
	if create.UID == "" {
		create.UID = shortuuid.New()
	}
	now := time.Now().Unix()
	if create.CreatedTs == 0 {
		create.CreatedTs = now
	}
	if create.UpdatedTs == 0 {
		create.UpdatedTs = now
	}
	if create.RowStatus == "" {
		create.RowStatus = Normal
	}
	if create.TitleSource == "" {
		create.TitleSource = TitleSourceDefault
	}
	return s.driver.CreateConversation(ctx, create)
}

func (s *Store) ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error) {
	return s.driver.ListConversations(ctx, find)
}

func (s *Store) GetConversation(ctx context.Context, find *FindConversation) (*Conversation, error) {
	list, err := s.driver.ListConversations(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error) {
	if update.UpdatedTs == nil {
		now := time.Now().Unix()
		update.UpdatedTs = &now
	}
	return s.driver.UpdateConversation(ctx, update)
}

// ArchiveConversation flips the row status; conversations are never hard
// deleted by the client.
func (s *Store) ArchiveConversation(ctx context.Context, id int32) (*Conversation, error) {
	archived := Archived
	return s.UpdateConversation(ctx, &UpdateConversation{ID: id, RowStatus: &archived})
}

func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	if create.UID == "" {
		create.UID = shortuuid.New()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	created, err := s.driver.CreateMessage(ctx, create)
	if err != nil {
		return nil, err
	}
	s.publishMessageInsert(created)
	return created, nil
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

func (s *Store) DeleteMessages(ctx context.Context, delete *DeleteMessages) error {
	return s.driver.DeleteMessages(ctx, delete)
}

func (s *Store) GetUserSetting(ctx context.Context, find *FindUserSetting) (*UserSetting, error) {
	return s.driver.GetUserSetting(ctx, find)
}

func (s *Store) UpsertUserSetting(ctx context.Context, upsert *UpsertUserSetting) (*UserSetting, error) {
	return s.driver.UpsertUserSetting(ctx, upsert)
}

// MessageTopic is the event topic carrying inserts for one conversation.
func MessageTopic(conversationID int32) string {
	return fmt.Sprintf("messages.%d", conversationID)
}

// Subscribe returns a channel of insert events for the given conversation.
// The subscription lives until ctx is canceled. Messages must be Acked.
func (s *Store) Subscribe(ctx context.Context, conversationID int32) (<-chan *message.Message, error) {
	return s.pubsub.Subscribe(ctx, MessageTopic(conversationID))
}
