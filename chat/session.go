package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/parleychat/parley/ai"
	"github.com/parleychat/parley/ai/content"
	"github.com/parleychat/parley/ai/metrics"
	"github.com/parleychat/parley/store"
)

// titleMaxRunes caps a derived title: the first exchange truncates the
// user's opening text to this many runes, with an ellipsis marker when
// something was cut.
const titleMaxRunes = 30

// entry is one element of the in-memory message sequence. Entries start as
// optimistic placeholders keyed by a client-generated localID and are
// upgraded in place once the store assigns the authoritative identity.
type entry struct {
	localID   string
	uid       string // empty while pending
	role      store.Role
	content   string // codec-encoded, same shape as the persisted field
	model     string
	createdTs int64
	thinking  bool
}

// Config assembles a session's collaborators.
type Config struct {
	Store  *store.Store
	Remote ai.Provider
	Local  LocalProvider
	// Mode is the starting mode; a persisted preference overrides it on Open.
	Mode Mode
	// ProbeInterval overrides the availability probe cadence (tests only).
	ProbeInterval time.Duration
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Session is the single logical thread of control over one open
// conversation. All pipeline steps are sequenced cooperatively; only the
// availability monitor runs on its own timer, and it only ever writes the
// cached status snapshot.
type Session struct {
	store   *store.Store
	remote  ai.Provider
	local   LocalProvider
	monitor *ai.Monitor
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	state   State
	mode    Mode
	conv    *store.Conversation
	entries []entry
	sending bool

	subCancel context.CancelFunc
	subDone   chan struct{}
}

// NewSession creates a session in the Idle state. Call Open to load
// history and start the availability monitor.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Store == nil || cfg.Remote == nil || cfg.Local == nil {
		return nil, errors.New("store, remote and local providers are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		store:   cfg.Store,
		remote:  cfg.Remote,
		local:   cfg.Local,
		metrics: cfg.Metrics,
		logger:  logger,
		state:   StateIdle,
		mode:    ParseMode(string(cfg.Mode)),
	}
	s.monitor = ai.NewMonitor(cfg.Local, cfg.ProbeInterval, s.onProbe)
	return s, nil
}

// onProbe runs on the monitor goroutine after every probe. When the
// selected local model is no longer installed it reselects the first
// listed one: best effort, never block on an exact model match.
func (s *Session) onProbe(status ai.Status) {
	s.metrics.SetLocalStatus(status.Available, len(status.Models))
	if !status.Available || len(status.Models) == 0 {
		return
	}
	current := s.local.Model()
	for _, m := range status.Models {
		if m == current {
			return
		}
	}
	s.logger.Info("selected local model not installed, reselecting",
		"previous", current, "selected", status.Models[0])
	s.local.SetModel(status.Models[0])
}

// Open loads the active conversation (creating one when none exists),
// replaces the in-memory sequence with the persisted history, subscribes
// to the conversation's insert events and starts the availability monitor.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return errors.Errorf("cannot open session in state %s", s.state)
	}
	s.state = StateLoading
	s.mu.Unlock()

	conv, err := s.activeConversation(ctx)
	if err != nil {
		s.setState(StateIdle)
		return err
	}

	if setting, err := s.store.GetUserSetting(ctx, &store.FindUserSetting{Key: store.UserSettingChatMode}); err != nil {
		s.logger.Warn("failed to load chat mode preference", "error", err)
	} else if setting != nil {
		s.mu.Lock()
		s.mode = ParseMode(setting.Value)
		s.mu.Unlock()
	}

	if err := s.load(ctx, conv); err != nil {
		s.setState(StateIdle)
		return err
	}

	s.monitor.Start()
	s.setState(StateReady)
	return nil
}

// activeConversation finds the most recently updated live conversation,
// creating one on demand when none is active.
func (s *Session) activeConversation(ctx context.Context) (*store.Conversation, error) {
	normal := store.Normal
	list, err := s.store.ListConversations(ctx, &store.FindConversation{RowStatus: &normal})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}
	if len(list) > 0 {
		return list[0], nil
	}
	conv, err := s.store.CreateConversation(ctx, &store.Conversation{Title: store.DefaultTitle})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create conversation")
	}
	return conv, nil
}

// load replaces the in-memory sequence wholesale with the persisted
// history of conv and re-scopes the event subscription to it. History is
// never merged on load; merge is reserved for change events.
func (s *Session) load(ctx context.Context, conv *store.Conversation) error {
	msgs, err := s.store.ListMessages(ctx, &store.FindMessage{ConversationID: &conv.ID})
	if err != nil {
		return errors.Wrap(err, "failed to load history")
	}

	entries := make([]entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, entryFromMessage(m))
	}

	s.mu.Lock()
	s.conv = conv
	s.entries = entries
	s.mu.Unlock()

	return s.subscribe(conv.ID)
}

// subscribe tears down the previous subscription, if any, and starts one
// scoped to the given conversation. At most one subscription is live per
// open session.
func (s *Session) subscribe(conversationID int32) error {
	s.unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.store.Subscribe(ctx, conversationID)
	if err != nil {
		cancel()
		return errors.Wrap(err, "failed to subscribe to change events")
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.subCancel = cancel
	s.subDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		for msg := range ch {
			event, err := store.DecodeMessageEvent(msg)
			if err != nil {
				s.logger.Warn("dropping undecodable change event", "error", err)
				msg.Ack()
				continue
			}
			if event.Type == store.EventInsert && event.Message != nil {
				s.mergeMessage(event.Message)
			}
			msg.Ack()
		}
	}()
	return nil
}

func (s *Session) unsubscribe() {
	s.mu.Lock()
	cancel, done := s.subCancel, s.subDone
	s.subCancel, s.subDone = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Send runs one full exchange: optimistic user placeholder, persist,
// authoritative history re-fetch, thinking placeholder, provider call,
// assistant persist. It always terminates with the session back in Ready
// and never leaves a dangling thinking placeholder.
//
// A Send while another is in flight is rejected, not queued. Failures
// after the user message was persisted are converted into a synthetic
// assistant error message rather than returned; failures before that
// point are returned directly.
func (s *Session) Send(ctx context.Context, text string, images []string) error {
	if text == "" && len(images) == 0 {
		return ErrEmptyInput
	}

	s.mu.Lock()
	switch {
	case s.state == StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case s.sending:
		s.mu.Unlock()
		return ErrBusy
	case s.state != StateReady:
		s.mu.Unlock()
		return ErrNotReady
	}
	if s.mode == ModeOffline && !s.monitor.Status().Available {
		s.mu.Unlock()
		return ErrLocalUnavailable
	}
	s.sending = true
	s.state = StateSending
	conv := s.conv
	mode := s.mode
	priorLen := len(s.entries)

	encoded := content.Encode(text, images)
	localID := uuid.NewString()
	s.entries = append(s.entries, entry{
		localID:   localID,
		role:      store.RoleUser,
		content:   encoded,
		createdTs: time.Now().Unix(),
	})
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sending = false
		if s.state == StateSending {
			s.state = StateReady
		}
		s.mu.Unlock()
	}()

	created, err := s.store.CreateMessage(ctx, &store.Message{
		ConversationID: conv.ID,
		Role:           store.RoleUser,
		Content:        encoded,
	})
	if err != nil {
		// The optimistic placeholder is deliberately left in place: the
		// store is the source of truth and the next load resolves the
		// divergence.
		return errors.Wrap(err, "failed to persist user message")
	}
	s.adopt(localID, created)
	s.logger.Debug("send progressing", "phase", phaseUserPersisted, "message_uid", created.UID)

	// The title is derived as soon as the opening user message is
	// persisted, so a first exchange that fails later still names the
	// conversation.
	s.maybeDeriveTitle(ctx, conv, text, priorLen+1)

	msgs, err := s.store.ListMessages(ctx, &store.FindMessage{ConversationID: &conv.ID})
	if err != nil {
		s.failTurn(ctx, conv, "", errors.Wrap(err, "failed to load history"))
		return nil
	}

	// Provider context is plain text only: images in history are stripped,
	// and just the current turn's attachments are forwarded.
	history := make([]ai.Turn, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, ai.Turn{Role: string(m.Role), Text: content.Decode(m.Content).Text})
	}

	thinkingID := uuid.NewString()
	s.mu.Lock()
	s.entries = append(s.entries, entry{
		localID:   thinkingID,
		role:      store.RoleAssistant,
		createdTs: time.Now().Unix(),
		thinking:  true,
	})
	s.mu.Unlock()
	s.logger.Debug("send progressing", "phase", phaseAwaitingCompletion, "mode", mode)

	provider := selectProvider(mode, s.remote, s.local)
	start := time.Now()
	reply, err := provider.Complete(ctx, history, images)
	s.metrics.ObserveCompletion(string(provider.Kind()), time.Since(start), err)
	if err != nil {
		s.logger.Error("completion failed", "provider", provider.Kind(), "error", err)
		s.failTurn(ctx, conv, thinkingID, err)
		return nil
	}

	s.removeByLocalID(thinkingID)
	assistant, err := s.store.CreateMessage(ctx, &store.Message{
		ConversationID: conv.ID,
		Role:           store.RoleAssistant,
		Content:        reply,
		Model:          provider.Model(),
	})
	if err != nil {
		s.failTurn(ctx, conv, "", errors.Wrap(err, "failed to persist assistant message"))
		return nil
	}
	s.mergeMessage(assistant)
	return nil
}

// failTurn ends a failed exchange: it removes the thinking placeholder and
// persists a synthetic assistant message describing the failure, so the
// error is part of the conversation record.
func (s *Session) failTurn(ctx context.Context, conv *store.Conversation, thinkingID string, cause error) {
	if thinkingID != "" {
		s.removeByLocalID(thinkingID)
	}
	synthetic, err := s.store.CreateMessage(ctx, &store.Message{
		ConversationID: conv.ID,
		Role:           store.RoleAssistant,
		Content:        fmt.Sprintf("Error: %v", cause),
	})
	if err != nil {
		s.logger.Error("failed to persist synthetic error message", "error", err)
		return
	}
	s.mergeMessage(synthetic)
}

// maybeDeriveTitle renames the conversation after the first exchange, once,
// from the user's opening text. historyLen is the history length at the
// time the user message was persisted.
func (s *Session) maybeDeriveTitle(ctx context.Context, conv *store.Conversation, text string, historyLen int) {
	if historyLen > 2 || conv.TitleSource != store.TitleSourceDefault || conv.Title != store.DefaultTitle {
		return
	}
	title := truncateTitle(text, titleMaxRunes)
	if title == "" {
		return
	}
	updated, err := s.store.UpdateConversation(ctx, &store.UpdateConversation{ID: conv.ID, Title: &title})
	if err != nil {
		s.logger.Warn("failed to persist derived title", "error", err)
		return
	}
	s.mu.Lock()
	if s.conv != nil && s.conv.ID == updated.ID {
		s.conv = updated
	}
	s.mu.Unlock()
}

// truncateTitle cuts s to maxRunes runes, appending an ellipsis marker
// when something was cut. Rune-level so multi-byte text stays intact.
func truncateTitle(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}

// Rename sets a user-provided title; from then on the title is no longer
// eligible for derivation.
func (s *Session) Rename(ctx context.Context, title string) error {
	s.mu.Lock()
	conv := s.conv
	s.mu.Unlock()
	if conv == nil {
		return ErrNotReady
	}

	source := store.TitleSourceUser
	updated, err := s.store.UpdateConversation(ctx, &store.UpdateConversation{
		ID:          conv.ID,
		Title:       &title,
		TitleSource: &source,
	})
	if err != nil {
		return errors.Wrap(err, "failed to rename conversation")
	}

	s.mu.Lock()
	if s.conv != nil && s.conv.ID == updated.ID {
		s.conv = updated
	}
	s.mu.Unlock()
	return nil
}

// Reset bulk-deletes every message of the conversation, then clears the
// in-memory sequence unconditionally. The conversation record survives.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateReady || s.sending {
		s.mu.Unlock()
		if s.state == StateClosed {
			return ErrClosed
		}
		return ErrNotReady
	}
	s.state = StateResetting
	conv := s.conv
	s.mu.Unlock()

	err := s.store.DeleteMessages(ctx, &store.DeleteMessages{ConversationID: conv.ID})

	s.mu.Lock()
	if err == nil {
		s.entries = nil
	}
	s.state = StateReady
	s.mu.Unlock()

	if err != nil {
		return errors.Wrap(err, "failed to reset conversation")
	}
	return nil
}

// SetMode switches the active provider. Switching into offline mode is
// rejected while the availability monitor reports the local provider
// unreachable. The new mode takes effect immediately; a failure to persist
// the preference is returned but does not revert it.
func (s *Session) SetMode(ctx context.Context, mode Mode) error {
	mode = ParseMode(string(mode))

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	if mode == ModeOffline && !s.monitor.Status().Available {
		s.mu.Unlock()
		return ErrLocalUnavailable
	}
	s.mode = mode
	s.mu.Unlock()

	if _, err := s.store.UpsertUserSetting(ctx, &store.UpsertUserSetting{
		Key:   store.UserSettingChatMode,
		Value: string(mode),
	}); err != nil {
		s.logger.Warn("mode switched but preference not persisted", "mode", mode, "error", err)
		return errors.Wrap(err, "mode switched but preference not persisted")
	}
	return nil
}

// NewConversation archives nothing; it creates a fresh conversation and
// switches the session to it.
func (s *Session) NewConversation(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateReady || s.sending {
		s.mu.Unlock()
		return ErrNotReady
	}
	s.mu.Unlock()

	conv, err := s.store.CreateConversation(ctx, &store.Conversation{Title: store.DefaultTitle})
	if err != nil {
		return errors.Wrap(err, "failed to create conversation")
	}
	return s.load(ctx, conv)
}

// Archive soft-deletes the current conversation and switches to the next
// live one, creating a fresh conversation when none remains.
func (s *Session) Archive(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateReady || s.sending {
		s.mu.Unlock()
		return ErrNotReady
	}
	conv := s.conv
	s.mu.Unlock()

	if _, err := s.store.ArchiveConversation(ctx, conv.ID); err != nil {
		return errors.Wrap(err, "failed to archive conversation")
	}
	next, err := s.activeConversation(ctx)
	if err != nil {
		return err
	}
	return s.load(ctx, next)
}

// SwitchConversation loads another live conversation by UID, replacing the
// in-memory sequence wholesale and re-scoping the event subscription.
func (s *Session) SwitchConversation(ctx context.Context, uid string) error {
	s.mu.Lock()
	if s.state != StateReady || s.sending {
		s.mu.Unlock()
		return ErrNotReady
	}
	s.mu.Unlock()

	conv, err := s.store.GetConversation(ctx, &store.FindConversation{UID: &uid})
	if err != nil {
		return errors.Wrap(err, "failed to find conversation")
	}
	if conv == nil {
		return errors.Errorf("no conversation with uid %s", uid)
	}
	return s.load(ctx, conv)
}

// Close tears down the subscription and the availability monitor. An
// in-flight Send is not canceled; it completes and writes its result even
// though no longer observed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.unsubscribe()
	s.monitor.Stop()
}

// --- accessors ---

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Conversation returns a copy of the current conversation record.
func (s *Session) Conversation() *store.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return nil
	}
	conv := *s.conv
	return &conv
}

// Describe resolves the provider descriptor for the current mode.
func (s *Session) Describe() ai.Descriptor {
	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()
	return ai.Describe(selectProvider(mode, s.remote, s.local))
}

// CanAttachImages reports whether the UI should offer image input: never
// in offline mode (a policy simplification), and online only when the
// remote model has vision support.
func (s *Session) CanAttachImages() bool {
	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()
	if mode == ModeOffline {
		return false
	}
	return ai.SupportsVision(ai.KindRemote, s.remote.Model())
}

// Available reports the cached local availability flag.
func (s *Session) Available() bool {
	return s.monitor.Status().Available
}

// Messages returns a decoded snapshot of the in-memory sequence.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, 0, len(s.entries))
	for _, e := range s.entries {
		rich := content.Decode(e.content)
		out = append(out, Message{
			UID:       e.uid,
			LocalID:   e.localID,
			Role:      e.role,
			Text:      rich.Text,
			Images:    rich.Images,
			Model:     e.model,
			CreatedTs: e.createdTs,
			Pending:   e.uid == "",
			Thinking:  e.thinking,
		})
	}
	return out
}

// --- in-memory sequence maintenance ---

func entryFromMessage(m *store.Message) entry {
	return entry{
		localID:   uuid.NewString(),
		uid:       m.UID,
		role:      m.Role,
		content:   m.Content,
		model:     m.Model,
		createdTs: m.CreatedTs,
	}
}

// setState is for transitions that need no other shared access.
func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// adopt upgrades the placeholder with the given localID to the
// authoritative record. If a change event already merged the record, the
// placeholder is removed instead, keeping the sequence free of duplicates.
func (s *Session) adopt(localID string, m *store.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.uid == m.UID {
			s.removeLocalIDLocked(localID)
			return
		}
	}
	for i := range s.entries {
		if s.entries[i].localID == localID {
			s.entries[i].uid = m.UID
			s.entries[i].content = m.Content
			s.entries[i].model = m.Model
			s.entries[i].createdTs = m.CreatedTs
			return
		}
	}
}

// mergeMessage inserts an authoritative record unless an entry with the
// same store identity already exists. Duplicate delivery is a no-op, which
// makes reconciliation safe under any interleaving of a self-originated
// persistence response and the change event for the same row.
func (s *Session) mergeMessage(m *store.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conv == nil || s.conv.ID != m.ConversationID {
		return
	}
	for _, e := range s.entries {
		if e.uid == m.UID {
			return
		}
	}

	e := entryFromMessage(m)
	// Keep creation order; equal timestamps stay in arrival order.
	idx := len(s.entries)
	for idx > 0 && s.entries[idx-1].uid != "" && s.entries[idx-1].createdTs > e.createdTs {
		idx--
	}
	s.entries = append(s.entries, entry{})
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = e
}

func (s *Session) removeByLocalID(localID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocalIDLocked(localID)
}

func (s *Session) removeLocalIDLocked(localID string) {
	for i := range s.entries {
		if s.entries[i].localID == localID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}
