package service

import (
	"context"
	"errors"
	"io"
	"sync"

	"forwardbot/internal/models"
	tgtypes "forwardbot/pkg/telegram/types"
	vktypes "forwardbot/pkg/vk/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// Mock VK client
type mockSource struct {
	mock.Mock
}

func (m *mockSource) GetLongPollServer(ctx context.Context, token string) (*vktypes.LongPollServer, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vktypes.LongPollServer), args.Error(1)
}

func (m *mockSource) Poll(ctx context.Context, server, key string, ts int64, wait int) (*vktypes.PollResult, error) {
	args := m.Called(ctx, server, key, ts, wait)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vktypes.PollResult), args.Error(1)
}

func (m *mockSource) GetHistoryPhotos(ctx context.Context, token string, peerID int64) ([]vktypes.Photo, error) {
	args := m.Called(ctx, token, peerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]vktypes.Photo), args.Error(1)
}

// Mock Telegram client
type mockTelegram struct {
	mock.Mock
}

func (m *mockTelegram) SendMessage(ctx context.Context, chatID int64, text, parseMode string) (*tgtypes.Message, error) {
	args := m.Called(ctx, chatID, text, parseMode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tgtypes.Message), args.Error(1)
}

func (m *mockTelegram) SendPhoto(ctx context.Context, chatID int64, photoURL string) (*tgtypes.Message, error) {
	args := m.Called(ctx, chatID, photoURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tgtypes.Message), args.Error(1)
}

func (m *mockTelegram) SendMediaGroup(ctx context.Context, chatID int64, photoURLs []string) ([]tgtypes.Message, error) {
	args := m.Called(ctx, chatID, photoURLs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]tgtypes.Message), args.Error(1)
}

// memCursorStore is an in-memory CursorStore
type memCursorStore struct {
	mu      sync.Mutex
	cursors map[int64]models.Cursor
	deletes int
	loadErr error
	saveErr error
}

func newMemCursorStore() *memCursorStore {
	return &memCursorStore{cursors: make(map[int64]models.Cursor)}
}

func (s *memCursorStore) Load(ctx context.Context, accountID int64) (*models.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	c, ok := s.cursors[accountID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *memCursorStore) Save(ctx context.Context, cursor *models.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.cursors[cursor.AccountID] = *cursor
	return nil
}

func (s *memCursorStore) Delete(ctx context.Context, accountID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	delete(s.cursors, accountID)
	return nil
}

func (s *memCursorStore) get(accountID int64) (models.Cursor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[accountID]
	return c, ok
}

// memRepository is an in-memory Repository that counts reads
type memRepository struct {
	mu             sync.Mutex
	accounts       map[int64]models.Account
	allowLists     map[int64][]models.AllowListEntry
	accountReads   int
	allowListReads int
	allowListErr   error
	nextID         int64
}

func newMemRepository() *memRepository {
	return &memRepository{
		accounts:   make(map[int64]models.Account),
		allowLists: make(map[int64][]models.AllowListEntry),
	}
}

func (r *memRepository) FindAccounts(ctx context.Context) ([]models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accountReads++
	accounts := make([]models.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		accounts = append(accounts, a)
	}
	return accounts, nil
}

func (r *memRepository) FindAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *memRepository) SaveAccount(ctx context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account.AccountID] = *account
	return nil
}

func (r *memRepository) DeleteAccount(ctx context.Context, accountID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, accountID)
	delete(r.allowLists, accountID)
	return nil
}

func (r *memRepository) FindAllowList(ctx context.Context, accountID int64) ([]models.AllowListEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowListReads++
	if r.allowListErr != nil {
		return nil, r.allowListErr
	}
	return append([]models.AllowListEntry(nil), r.allowLists[accountID]...), nil
}

func (r *memRepository) AddAllowListEntry(ctx context.Context, entry *models.AllowListEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.allowLists[entry.AccountID]
	for i := range entries {
		if entries[i].SourceContactID == entry.SourceContactID {
			entries[i].DisplayName = entry.DisplayName
			entry.ID = entries[i].ID
			return nil
		}
	}
	r.nextID++
	entry.ID = r.nextID
	r.allowLists[entry.AccountID] = append(entries, *entry)
	return nil
}

func (r *memRepository) RemoveAllowListEntry(ctx context.Context, accountID, contactID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.allowLists[accountID]
	for i := range entries {
		if entries[i].SourceContactID == contactID {
			r.allowLists[accountID] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	return nil
}

// recordingSink remembers every message it was asked to send
type recordingSink struct {
	mu   sync.Mutex
	sent []models.ForwardableMessage
	fail func(msg *models.ForwardableMessage) bool
}

func (s *recordingSink) Send(ctx context.Context, msg *models.ForwardableMessage) error {
	if s.fail != nil && s.fail(msg) {
		return errors.New("sink rejected message")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, *msg)
	return nil
}

func (s *recordingSink) messages() []models.ForwardableMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ForwardableMessage(nil), s.sent...)
}

// recordingNotifier collects operator and chat notices
type recordingNotifier struct {
	mu       sync.Mutex
	operator []string
	chats    map[int64][]string
	err      error
}

func (n *recordingNotifier) NotifyOperator(ctx context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.operator = append(n.operator, message)
	return nil
}

func (n *recordingNotifier) NotifyAccount(ctx context.Context, accountID int64, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.chats == nil {
		n.chats = make(map[int64][]string)
	}
	n.chats[accountID] = append(n.chats[accountID], message)
	return nil
}

func (n *recordingNotifier) operatorMessages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.operator...)
}

func (n *recordingNotifier) chatMessages(accountID int64) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.chats[accountID]...)
}

// staticAllowLists serves fixed allow-lists
type staticAllowLists struct {
	lists map[int64]models.AllowList
	err   error
}

func (s *staticAllowLists) Get(ctx context.Context, accountID int64) (models.AllowList, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.lists[accountID], nil
}
