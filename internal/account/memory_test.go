package account

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, err := store.CreateUser(ctx, NewUser{Login: "jdoe", Email: "JDoe@Example.com", Role: "subscriber"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	ok, err := store.ExistsByEmail(ctx, "jdoe@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ExistsByLogin(ctx, "JDOE")
	require.NoError(t, err)
	assert.False(t, ok, "logins are case-sensitive")

	u, err := store.FindByEmail(ctx, "jdoe@EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, "jdoe", u.Login)

	u, err = store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "subscriber", u.Role)

	_, err = store.FindByLogin(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CreateUserErrors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.CreateUser(ctx, NewUser{Login: "jdoe", Email: "jdoe@example.com"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		user    NewUser
		wantErr error
	}{
		{name: "same login", user: NewUser{Login: "jdoe", Email: "other@example.com"}, wantErr: ErrDuplicate},
		{name: "same email other case", user: NewUser{Login: "other", Email: "JDOE@example.com"}, wantErr: ErrDuplicate},
		{name: "missing email", user: NewUser{Login: "other"}, wantErr: ErrInvalidUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.CreateUser(ctx, tt.user)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_SetMeta(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id, err := store.CreateUser(ctx, NewUser{Login: "jdoe", Email: "jdoe@example.com"})
	require.NoError(t, err)

	require.NoError(t, store.SetMeta(ctx, id, "ciudad_ecuador", "Quito"))
	require.NoError(t, store.SetMeta(ctx, id, "ciudad_ecuador", "Cuenca"))
	assert.Equal(t, map[string]string{"ciudad_ecuador": "Cuenca"}, store.Meta(id))

	assert.ErrorIs(t, store.SetMeta(ctx, 42, "ciudad_ecuador", "Quito"), ErrNotFound)
	assert.Empty(t, store.Meta(42))
}

func TestMemoryStore_ConcurrentCreateSameLogin(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreateUser(ctx, NewUser{Login: "race", Email: "race@example.com"})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	created := 0
	for err := range results {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicate)
	}
	assert.Equal(t, 1, created)
}
