package account

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a Store held in process memory. It backs dry runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	byID    map[int64]*User
	byLogin map[string]int64
	byEmail map[string]int64
	meta    map[int64]map[string]string
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[int64]*User),
		byLogin: make(map[string]int64),
		byEmail: make(map[string]int64),
		meta:    make(map[int64]map[string]string),
	}
}

func (m *MemoryStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.byEmail[strings.ToLower(email)]
	return ok, nil
}

func (m *MemoryStore) ExistsByLogin(ctx context.Context, login string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.byLogin[login]
	return ok, nil
}

func (m *MemoryStore) FindByID(ctx context.Context, id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.copyOf(id)
}

func (m *MemoryStore) FindByLogin(ctx context.Context, login string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byLogin[login]
	if !ok {
		return nil, ErrNotFound
	}
	return m.copyOf(id)
}

func (m *MemoryStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return m.copyOf(id)
}

func (m *MemoryStore) copyOf(id int64) (*User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// CreateUser enforces the same uniqueness rules as the users table.
func (m *MemoryStore) CreateUser(ctx context.Context, u NewUser) (int64, error) {
	if u.Login == "" || u.Email == "" {
		return 0, fmt.Errorf("%w: login and email are required", ErrInvalidUser)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byLogin[u.Login]; ok {
		return 0, fmt.Errorf("%w: login %q", ErrDuplicate, u.Login)
	}
	emailKey := strings.ToLower(u.Email)
	if _, ok := m.byEmail[emailKey]; ok {
		return 0, fmt.Errorf("%w: email %q", ErrDuplicate, u.Email)
	}

	m.nextID++
	id := m.nextID
	m.byID[id] = &User{
		ID:          id,
		Login:       u.Login,
		Email:       u.Email,
		Role:        u.Role,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		DisplayName: u.DisplayName,
		Nickname:    u.Nickname,
		URL:         u.URL,
		Description: u.Description,
		CreatedAt:   time.Now(),
	}
	m.byLogin[u.Login] = id
	m.byEmail[emailKey] = id

	return id, nil
}

func (m *MemoryStore) SetMeta(ctx context.Context, userID int64, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[userID]; !ok {
		return ErrNotFound
	}
	if m.meta[userID] == nil {
		m.meta[userID] = make(map[string]string)
	}
	m.meta[userID][key] = value

	return nil
}

// Meta returns a copy of a user's metadata.
func (m *MemoryStore) Meta(userID int64) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.meta[userID]))
	for k, v := range m.meta[userID] {
		out[k] = v
	}
	return out
}

// Len is the number of stored users.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.byID)
}
