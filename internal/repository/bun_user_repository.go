package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iKora128/medical-wiki/internal/auth"
	"github.com/iKora128/medical-wiki/internal/db/models"
	"github.com/uptrace/bun"
)

const (
	// DefaultPageLimit is the page size used when a listing names none.
	DefaultPageLimit = 10
	// MaxPageLimit caps the page size of a listing.
	MaxPageLimit = 100
)

// BunUserRepository implements UserRepository using Bun ORM
type BunUserRepository struct {
	db  *bun.DB
	now func() time.Time
}

// NewBunUserRepository creates a new Bun-based user repository
func NewBunUserRepository(db *bun.DB) *BunUserRepository {
	return &BunUserRepository{db: db, now: time.Now}
}

var _ UserRepository = (*BunUserRepository)(nil)

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, auth.ErrStoreUnavailable, err)
}

func seedModel(seed UserSeed, createdAt time.Time) *models.User {
	user := &models.User{
		ID:        seed.ID,
		Name:      seed.Name,
		Role:      string(seed.Role),
		CreatedAt: createdAt.UTC(),
	}
	if seed.Email != "" {
		email := seed.Email
		user.Email = &email
	}
	if user.Role == "" {
		user.Role = string(auth.RoleUser)
	}
	return user
}

func validateSeed(seed UserSeed) error {
	if strings.TrimSpace(seed.ID) == "" {
		return errors.New("user id is required")
	}
	if seed.Role != "" && !seed.Role.Valid() {
		return fmt.Errorf("invalid role %q", seed.Role)
	}
	return nil
}

// GetRole returns the stored role for uid, defaulting to USER when no record exists.
func (r *BunUserRepository) GetRole(ctx context.Context, uid string) (auth.Role, error) {
	var role string
	err := r.db.NewSelect().
		Model((*models.User)(nil)).
		Column("role").
		Where("id = ?", uid).
		Scan(ctx, &role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.RoleUser, nil
		}
		return "", storeErr("get role", err)
	}

	parsed, err := auth.ParseRole(role)
	if err != nil {
		// Least privilege for a corrupt value.
		return auth.RoleUser, nil
	}
	return parsed, nil
}

// SetRole upserts the role for uid, creating a bare record when none exists.
func (r *BunUserRepository) SetRole(ctx context.Context, uid string, role auth.Role) error {
	if !role.Valid() {
		return fmt.Errorf("set role: invalid role %q", role)
	}
	if err := validateSeed(UserSeed{ID: uid}); err != nil {
		return fmt.Errorf("set role: %w", err)
	}

	user := seedModel(UserSeed{ID: uid, Role: role}, r.now())
	_, err := r.db.NewInsert().
		Model(user).
		On("CONFLICT (id) DO UPDATE").
		Set("role = EXCLUDED.role").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return storeErr("set role", err)
	}
	return nil
}

// Exists reports whether uid has a record.
func (r *BunUserRepository) Exists(ctx context.Context, uid string) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*models.User)(nil)).
		Where("id = ?", uid).
		Exists(ctx)
	if err != nil {
		return false, storeErr("user exists", err)
	}
	return exists, nil
}

// EnsureUser inserts the record unless it already exists, then returns the stored row.
// Concurrent calls for the same uid serialise on the primary key.
func (r *BunUserRepository) EnsureUser(ctx context.Context, seed UserSeed) (*models.User, bool, error) {
	if err := validateSeed(seed); err != nil {
		return nil, false, fmt.Errorf("ensure user: %w", err)
	}

	res, err := r.db.NewInsert().
		Model(seedModel(seed, r.now())).
		On("CONFLICT (id) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return nil, false, storeErr("ensure user", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, storeErr("ensure user rows affected", err)
	}

	user, err := r.get(ctx, seed.ID)
	if err != nil {
		return nil, false, err
	}
	return user, affected > 0, nil
}

// TouchLogin updates the last_login_at timestamp for uid
func (r *BunUserRepository) TouchLogin(ctx context.Context, uid string, at time.Time) error {
	_, err := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("last_login_at = ?", at.UTC()).
		Where("id = ?", uid).
		Exec(ctx)
	if err != nil {
		return storeErr("touch login", err)
	}
	return nil
}

// Get retrieves a user by uid
func (r *BunUserRepository) Get(ctx context.Context, uid string) (*models.User, error) {
	return r.get(ctx, uid)
}

func (r *BunUserRepository) get(ctx context.Context, uid string) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("id = ?", uid).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, uid)
		}
		return nil, storeErr("get user", err)
	}
	return user, nil
}

// Create provisions a new user record, failing with ErrUserExists for a known uid.
func (r *BunUserRepository) Create(ctx context.Context, seed UserSeed) (*models.User, error) {
	if err := validateSeed(seed); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	res, err := r.db.NewInsert().
		Model(seedModel(seed, r.now())).
		On("CONFLICT (id) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return nil, storeErr("create user", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, storeErr("create user rows affected", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUserExists, seed.ID)
	}
	return r.get(ctx, seed.ID)
}

// List returns one page of users matching filter, newest first, plus the total match count.
func (r *BunUserRepository) List(ctx context.Context, filter UserFilter) ([]models.User, int, error) {
	filter = filter.Normalize()

	var users []models.User
	q := r.db.NewSelect().Model(&users)
	if filter.EmailContains != "" {
		q = q.Where("LOWER(email) LIKE ?", "%"+strings.ToLower(filter.EmailContains)+"%")
	}
	if filter.Role != "" {
		q = q.Where("role = ?", string(filter.Role))
	}

	total, err := q.
		Order("created_at DESC", "id ASC").
		Limit(filter.Limit).
		Offset((filter.Page - 1) * filter.Limit).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, storeErr("list users", err)
	}
	return users, total, nil
}

// Normalize applies paging defaults and bounds.
func (f UserFilter) Normalize() UserFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	f.EmailContains = strings.TrimSpace(f.EmailContains)
	return f
}
