package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/parley/internal/profile"
	"github.com/parleychat/parley/store"
	"github.com/parleychat/parley/store/db"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	testProfile := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "parley_test.db"),
	}
	driver, err := db.NewDBDriver(testProfile)
	require.NoError(t, err)

	s := store.New(driver, testProfile)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestConversationStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created, err := s.CreateConversation(ctx, &store.Conversation{Title: store.DefaultTitle})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.NotEmpty(t, created.UID)
	assert.Equal(t, store.DefaultTitle, created.Title)
	assert.Equal(t, store.TitleSourceDefault, created.TitleSource)
	assert.Equal(t, store.Normal, created.RowStatus)
	assert.NotZero(t, created.CreatedTs)

	found, err := s.GetConversation(ctx, &store.FindConversation{ID: &created.ID})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.UID, found.UID)

	title := "Renamed"
	source := store.TitleSourceUser
	updated, err := s.UpdateConversation(ctx, &store.UpdateConversation{
		ID:          created.ID,
		Title:       &title,
		TitleSource: &source,
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, store.TitleSourceUser, updated.TitleSource)

	archived, err := s.ArchiveConversation(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, store.Archived, archived.RowStatus)

	normal := store.Normal
	active, err := s.ListConversations(ctx, &store.FindConversation{RowStatus: &normal})
	require.NoError(t, err)
	assert.Empty(t, active, "archived conversations drop out of the active listing")

	missing, err := s.GetConversation(ctx, &store.FindConversation{UID: stringPtr("no-such-uid")})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMessageStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	conversation, err := s.CreateConversation(ctx, &store.Conversation{Title: store.DefaultTitle})
	require.NoError(t, err)

	base := time.Now().Unix()
	for i, text := range []string{"first", "second", "third"} {
		_, err := s.CreateMessage(ctx, &store.Message{
			ConversationID: conversation.ID,
			Role:           store.RoleUser,
			Content:        text,
			CreatedTs:      base + int64(i),
		})
		require.NoError(t, err)
	}

	messages, err := s.ListMessages(ctx, &store.FindMessage{ConversationID: &conversation.ID})
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "third", messages[2].Content)
	for _, m := range messages {
		assert.NotEmpty(t, m.UID)
	}

	require.NoError(t, s.DeleteMessages(ctx, &store.DeleteMessages{ConversationID: conversation.ID}))
	messages, err = s.ListMessages(ctx, &store.FindMessage{ConversationID: &conversation.ID})
	require.NoError(t, err)
	assert.Empty(t, messages)

	// The conversation row itself is untouched by a message wipe.
	found, err := s.GetConversation(ctx, &store.FindConversation{ID: &conversation.ID})
	require.NoError(t, err)
	require.NotNil(t, found)
}

func TestUserSettingStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	missing, err := s.GetUserSetting(ctx, &store.FindUserSetting{Key: store.UserSettingChatMode})
	require.NoError(t, err)
	assert.Nil(t, missing, "an unset preference is absence, not an error")

	_, err = s.UpsertUserSetting(ctx, &store.UpsertUserSetting{
		Key:   store.UserSettingChatMode,
		Value: "offline",
	})
	require.NoError(t, err)

	setting, err := s.GetUserSetting(ctx, &store.FindUserSetting{Key: store.UserSettingChatMode})
	require.NoError(t, err)
	require.NotNil(t, setting)
	assert.Equal(t, "offline", setting.Value)

	// Upsert overwrites in place.
	_, err = s.UpsertUserSetting(ctx, &store.UpsertUserSetting{
		Key:   store.UserSettingChatMode,
		Value: "online",
	})
	require.NoError(t, err)
	setting, err = s.GetUserSetting(ctx, &store.FindUserSetting{Key: store.UserSettingChatMode})
	require.NoError(t, err)
	require.NotNil(t, setting)
	assert.Equal(t, "online", setting.Value)
}

func TestSubscribeReceivesInsertEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestStore(t)

	conversation, err := s.CreateConversation(ctx, &store.Conversation{Title: store.DefaultTitle})
	require.NoError(t, err)
	other, err := s.CreateConversation(ctx, &store.Conversation{Title: store.DefaultTitle})
	require.NoError(t, err)

	events, err := s.Subscribe(ctx, conversation.ID)
	require.NoError(t, err)

	// A write to an unrelated conversation must not reach this topic.
	_, err = s.CreateMessage(ctx, &store.Message{
		ConversationID: other.ID,
		Role:           store.RoleUser,
		Content:        "elsewhere",
	})
	require.NoError(t, err)

	created, err := s.CreateMessage(ctx, &store.Message{
		ConversationID: conversation.ID,
		Role:           store.RoleUser,
		Content:        "hello",
	})
	require.NoError(t, err)

	select {
	case msg := <-events:
		event, err := store.DecodeMessageEvent(msg)
		require.NoError(t, err)
		msg.Ack()
		assert.Equal(t, store.EventInsert, event.Type)
		require.NotNil(t, event.Message)
		assert.Equal(t, created.UID, event.Message.UID)
		assert.Equal(t, conversation.ID, event.Message.ConversationID)
		assert.Equal(t, "hello", event.Message.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("no insert event received")
	}

	select {
	case msg := <-events:
		event, _ := store.DecodeMessageEvent(msg)
		msg.Ack()
		t.Fatalf("unexpected event for message %q", event.Message.Content)
	case <-time.After(100 * time.Millisecond):
	}
}

func stringPtr(s string) *string {
	return &s
}
