package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"OpenMCP-Bank/internal/auth"
)

// AuthStore 把登录账号与档案的绑定关系保存在 bank_users 表。
type AuthStore struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ auth.Store = (*AuthStore)(nil)

// NewAuthStore creates the store using the provided connection settings.
func NewAuthStore(ctx context.Context, cfg Config) (*AuthStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &AuthStore{db: db, now: time.Now}, nil
}

// Close releases the underlying database connection pool.
func (s *AuthStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type userRow struct {
	Username     string `db:"username"`
	ProfileID    string `db:"profile_id"`
	PasswordHash string `db:"password_hash"`
	Roles        string `db:"roles"`
	Disabled     bool   `db:"disabled"`
}

// FindUserByUsername implements auth.Store.
func (s *AuthStore) FindUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	const query = `SELECT username, profile_id, password_hash, roles, disabled FROM bank_users WHERE username = ?`
	var row userRow
	if err := s.db.GetContext(ctx, &row, query, strings.TrimSpace(username)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	return &auth.User{
		Username:     row.Username,
		ProfileID:    row.ProfileID,
		PasswordHash: row.PasswordHash,
		Roles:        splitRoles(row.Roles),
		Disabled:     row.Disabled,
	}, nil
}

// ApplySeed upserts a bootstrap account.
func (s *AuthStore) ApplySeed(ctx context.Context, seed auth.Seed) error {
	username := strings.TrimSpace(seed.Username)
	if username == "" {
		return errors.New("seed username cannot be empty")
	}
	if !auth.ValidProfileID(seed.ProfileID) {
		return auth.ErrMalformedIdentity
	}
	passwordHash, err := auth.HashPassword(seed.Password)
	if err != nil {
		return err
	}
	now := s.now().Unix()
	const upsertUser = `INSERT INTO bank_users (username, profile_id, password_hash, roles, disabled, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE profile_id = VALUES(profile_id), password_hash = VALUES(password_hash), roles = VALUES(roles), disabled = VALUES(disabled), updated_at = VALUES(updated_at)`
	if _, err := s.db.ExecContext(ctx, upsertUser, username, seed.ProfileID, passwordHash,
		strings.Join(dedupeValues(seed.Roles), ","), boolToInt(seed.Disabled), now, now); err != nil {
		return fmt.Errorf("保存用户失败: %w", err)
	}
	return nil
}

func splitRoles(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return dedupeValues(strings.Split(raw, ","))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func dedupeValues(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		seen[strings.ToLower(value)] = struct{}{}
	}
	result := make([]string, 0, len(seen))
	for key := range seen {
		result = append(result, key)
	}
	sort.Strings(result)
	return result
}
