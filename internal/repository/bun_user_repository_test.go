package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/iKora128/medical-wiki/internal/auth"
	"github.com/iKora128/medical-wiki/internal/db/bunx"
	"github.com/iKora128/medical-wiki/internal/migrations"
)

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	ctx := context.Background()
	db, err := bunx.NewDB(ctx, ":memory:", bunx.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunx.Close(db) })

	_, err = migrations.Apply(ctx, db)
	require.NoError(t, err)
	return db
}

// steppingClock returns a clock that advances one second per call.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func TestBunUserRepository_GetRoleDefaultsToUser(t *testing.T) {
	repo := NewBunUserRepository(setupTestDB(t))

	role, err := repo.GetRole(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleUser, role)

	exists, err := repo.Exists(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBunUserRepository_SetRoleIsIdempotentUpsert(t *testing.T) {
	repo := NewBunUserRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.SetRole(ctx, "u1", auth.RoleAdmin))
	require.NoError(t, repo.SetRole(ctx, "u1", auth.RoleAdmin))

	role, err := repo.GetRole(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, role)

	require.NoError(t, repo.SetRole(ctx, "u1", auth.RoleUser))
	role, err = repo.GetRole(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleUser, role)

	assert.Error(t, repo.SetRole(ctx, "u1", auth.Role("ROOT")))
}

func TestBunUserRepository_SetRoleKeepsProfile(t *testing.T) {
	repo := NewBunUserRepository(setupTestDB(t))
	ctx := context.Background()

	_, created, err := repo.EnsureUser(ctx, UserSeed{ID: "u1", Email: "a@example.com", Name: "Alice"})
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, repo.SetRole(ctx, "u1", auth.RoleAdmin))

	user, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ADMIN", user.Role)
	assert.Equal(t, "Alice", user.Name)
	assert.Equal(t, "a@example.com", user.EmailOrEmpty())
}

func TestBunUserRepository_EnsureUser(t *testing.T) {
	repo := NewBunUserRepository(setupTestDB(t))
	ctx := context.Background()

	user, created, err := repo.EnsureUser(ctx, UserSeed{ID: "u1", Email: "a@example.com", Name: "Alice"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "USER", user.Role)
	assert.Nil(t, user.LastLoginAt)

	// Second call returns the stored row untouched.
	user, created, err = repo.EnsureUser(ctx, UserSeed{ID: "u1", Email: "other@example.com", Role: auth.RoleAdmin})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "USER", user.Role)
	assert.Equal(t, "a@example.com", user.EmailOrEmpty())

	_, _, err = repo.EnsureUser(ctx, UserSeed{})
	assert.Error(t, err)
}

func TestBunUserRepository_EnsureUserConcurrent(t *testing.T) {
	repo := NewBunUserRepository(setupTestDB(t))
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		creates int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := repo.EnsureUser(ctx, UserSeed{ID: "racer", Email: "racer@example.com"})
			assert.NoError(t, err)
			if created {
				mu.Lock()
				creates++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, creates)
	_, total, err := repo.List(ctx, UserFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestBunUserRepository_TouchLogin(t *testing.T) {
	repo := NewBunUserRepository(setupTestDB(t))
	ctx := context.Background()

	_, _, err := repo.EnsureUser(ctx, UserSeed{ID: "u1"})
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.TouchLogin(ctx, "u1", at))

	user, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, user.LastLoginAt)
	assert.True(t, at.Equal(*user.LastLoginAt))
}

func TestBunUserRepository_CreateAndGet(t *testing.T) {
	repo := NewBunUserRepository(setupTestDB(t))
	ctx := context.Background()

	user, err := repo.Create(ctx, UserSeed{ID: "u1", Email: "editor@example.com", Name: "Editor", Role: auth.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, "ADMIN", user.Role)

	_, err = repo.Create(ctx, UserSeed{ID: "u1"})
	assert.ErrorIs(t, err, ErrUserExists)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, auth.ErrStoreUnavailable)
}

func TestBunUserRepository_List(t *testing.T) {
	repo := NewBunUserRepository(setupTestDB(t))
	repo.now = steppingClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 1; i <= 12; i++ {
		role := auth.RoleUser
		if i%4 == 0 {
			role = auth.RoleAdmin
		}
		_, err := repo.Create(ctx, UserSeed{
			ID:    fmt.Sprintf("u%02d", i),
			Email: fmt.Sprintf("User%02d@Hospital.example", i),
			Role:  role,
		})
		require.NoError(t, err)
	}

	t.Run("default page", func(t *testing.T) {
		users, total, err := repo.List(ctx, UserFilter{})
		require.NoError(t, err)
		assert.Equal(t, 12, total)
		require.Len(t, users, DefaultPageLimit)
		assert.Equal(t, "u12", users[0].ID, "newest first")
	})

	t.Run("second page", func(t *testing.T) {
		users, total, err := repo.List(ctx, UserFilter{Page: 2, Limit: 5})
		require.NoError(t, err)
		assert.Equal(t, 12, total)
		require.Len(t, users, 5)
		assert.Equal(t, "u07", users[0].ID)
	})

	t.Run("role filter", func(t *testing.T) {
		users, total, err := repo.List(ctx, UserFilter{Role: auth.RoleAdmin})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		for _, u := range users {
			assert.Equal(t, "ADMIN", u.Role)
		}
	})

	t.Run("email contains is case-insensitive", func(t *testing.T) {
		users, total, err := repo.List(ctx, UserFilter{EmailContains: "user1"})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Len(t, users, 3)
	})
}

func TestBunUserRepository_StoreUnavailable(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBunUserRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.GetRole(ctx, "u1")
	assert.ErrorIs(t, err, auth.ErrStoreUnavailable)

	require.NoError(t, db.Close())
	_, err = repo.GetRole(context.Background(), "u1")
	assert.ErrorIs(t, err, auth.ErrStoreUnavailable)
	assert.Equal(t, 500, auth.HTTPStatus(err))
}

func TestUserFilterNormalize(t *testing.T) {
	f := UserFilter{Page: -1, Limit: 1000, EmailContains: "  a@b "}.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, MaxPageLimit, f.Limit)
	assert.Equal(t, "a@b", f.EmailContains)
}
