package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/V4T54L/inboxguard/internal/domain"
)

// MockCredentialStore is a mock implementation of domain.CredentialStore for testing.
// Access maps user id to the account ids it may act on.
type MockCredentialStore struct {
	mu          sync.Mutex
	Credentials map[string]int64
	Users       map[int64]*domain.User
	Access      map[int64]map[int64]bool
	ResolveErr  error
	AccessErr   error

	ResolveCalls int
	AccessCalls  int
	SubjectCalls int
}

func NewMockCredentialStore() *MockCredentialStore {
	return &MockCredentialStore{
		Credentials: make(map[string]int64),
		Users:       make(map[int64]*domain.User),
		Access:      make(map[int64]map[int64]bool),
	}
}

// AddUser registers a user reachable by credential with access to accountIDs.
func (m *MockCredentialStore) AddUser(credential string, user domain.User, accountIDs ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Credentials[credential] = user.ID
	m.Users[user.ID] = &user
	if m.Access[user.ID] == nil {
		m.Access[user.ID] = make(map[int64]bool)
	}
	for _, id := range accountIDs {
		m.Access[user.ID][id] = true
	}
}

func (m *MockCredentialStore) Revoke(userID, accountID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Access[userID], accountID)
}

func (m *MockCredentialStore) DeleteUser(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Users, userID)
	for cred, id := range m.Credentials {
		if id == userID {
			delete(m.Credentials, cred)
		}
	}
}

func (m *MockCredentialStore) ResolveCredential(ctx context.Context, credential string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResolveCalls++
	if m.ResolveErr != nil {
		return nil, m.ResolveErr
	}
	id, ok := m.Credentials[credential]
	if !ok {
		return nil, domain.ErrNotFound
	}
	u, ok := m.Users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MockCredentialStore) FindSubject(ctx context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SubjectCalls++
	u, ok := m.Users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MockCredentialStore) HasAccess(ctx context.Context, userID, accountID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AccessCalls++
	if m.AccessErr != nil {
		return false, m.AccessErr
	}
	return m.Access[userID][accountID], nil
}

func (m *MockCredentialStore) Calls() (resolve, access, subject int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ResolveCalls, m.AccessCalls, m.SubjectCalls
}

// MockMembershipRepository is a mock implementation of domain.MembershipRepository.
type MockMembershipRepository struct {
	mu    sync.Mutex
	Links []domain.AccountActorLink
	Err   error
}

func (m *MockMembershipRepository) FindActorLink(ctx context.Context, userID, accountID int64) (*domain.AccountActorLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, l := range m.Links {
		if l.UserID == userID && l.AccountID == accountID {
			cp := l
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

// MockAccountRepository is a mock implementation of domain.AccountRepository.
type MockAccountRepository struct {
	mu       sync.Mutex
	Accounts map[int64]*domain.Account
	Err      error
}

func (m *MockAccountRepository) FindByID(ctx context.Context, id int64) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	a, ok := m.Accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// MockEventQueue is a mock implementation of domain.EventQueue for testing.
type MockEventQueue struct {
	mu              sync.Mutex
	EnqueuedEvents  []domain.InboundEvent
	ReadBatchResult []domain.InboundEvent
	ClaimResult     []domain.InboundEvent
	ClaimMinIdle    time.Duration
	ClaimCount      int
	ReadCount       int
	AckedStreamIDs  []string
	DLQEvents       []domain.InboundEvent
	DLQReasons      []string
	EnqueueErr      error
	ReadErr         error
	ClaimErr        error
	AckErr          error
	DLQErr          error
}

func (m *MockEventQueue) Enqueue(ctx context.Context, event domain.InboundEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EnqueueErr != nil {
		return m.EnqueueErr
	}
	m.EnqueuedEvents = append(m.EnqueuedEvents, event)
	return nil
}

func (m *MockEventQueue) ReadBatch(ctx context.Context, group, consumer string, count int) ([]domain.InboundEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	m.ReadCount = count
	batch := m.ReadBatchResult
	m.ReadBatchResult = nil
	return batch, nil
}

func (m *MockEventQueue) ClaimStale(ctx context.Context, group, consumer string, minIdle time.Duration, count int) ([]domain.InboundEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClaimMinIdle = minIdle
	m.ClaimCount = count
	if m.ClaimErr != nil {
		return nil, m.ClaimErr
	}
	claimed := m.ClaimResult
	m.ClaimResult = nil
	return claimed, nil
}

func (m *MockEventQueue) Acknowledge(ctx context.Context, group string, streamIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AckErr != nil {
		return m.AckErr
	}
	m.AckedStreamIDs = append(m.AckedStreamIDs, streamIDs...)
	return nil
}

func (m *MockEventQueue) MoveToDLQ(ctx context.Context, events []domain.InboundEvent, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DLQErr != nil {
		return m.DLQErr
	}
	m.DLQEvents = append(m.DLQEvents, events...)
	for range events {
		m.DLQReasons = append(m.DLQReasons, reason)
	}
	return nil
}

// MockStreamAdminRepository is a mock implementation of domain.StreamAdminRepository.
type MockStreamAdminRepository struct {
	mu         sync.Mutex
	Groups     []domain.ConsumerGroupInfo
	Pending    *domain.PendingMessageSummary
	Details    []domain.PendingMessageDetail
	DetailsFor string
	Length     int64
	Trimmed    int64
	TrimmedMax int64
	TrimmedOn  string
	Err        error
}

func (m *MockStreamAdminRepository) GetGroupInfo(ctx context.Context, stream string) ([]domain.ConsumerGroupInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Groups, nil
}

func (m *MockStreamAdminRepository) GetPendingMessages(ctx context.Context, stream, group, consumer string, count int64) ([]domain.PendingMessageDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.DetailsFor = consumer
	if int64(len(m.Details)) > count {
		return m.Details[:count], nil
	}
	return m.Details, nil
}

func (m *MockStreamAdminRepository) GetPendingSummary(ctx context.Context, stream, group string) (*domain.PendingMessageSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Pending == nil {
		return &domain.PendingMessageSummary{}, nil
	}
	return m.Pending, nil
}

func (m *MockStreamAdminRepository) StreamLength(ctx context.Context, stream string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return m.Length, nil
}

func (m *MockStreamAdminRepository) TrimStream(ctx context.Context, stream string, maxLen int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	m.TrimmedOn = stream
	m.TrimmedMax = maxLen
	return m.Trimmed, nil
}
