package mysql

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"OpenMCP-Bank/internal/auth"
)

func TestAuthStoreFindUser(t *testing.T) {
	t.Parallel()

	db, drv := newMockSQLX(t, []mockOperation{
		queryOp(`SELECT username, profile_id, password_hash, roles, disabled FROM bank_users WHERE username = ?`, mockRowsData{
			columns: []string{"username", "profile_id", "password_hash", "roles", "disabled"},
			values:  [][]driver.Value{{"alice", "u1", "salt:digest", "customer,admin", int64(0)}},
		}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &AuthStore{db: db, now: time.Now}
	user, err := store.FindUserByUsername(context.Background(), " alice ")
	if err != nil {
		t.Fatalf("FindUserByUsername: %v", err)
	}
	if user.ProfileID != "u1" || len(user.Roles) != 2 || user.Roles[0] != "admin" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestAuthStoreApplySeed(t *testing.T) {
	t.Parallel()

	db, drv := newMockSQLX(t, []mockOperation{
		execOp(`INSERT INTO bank_users (username, profile_id, password_hash, roles, disabled, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE profile_id = VALUES(profile_id), password_hash = VALUES(password_hash), roles = VALUES(roles), disabled = VALUES(disabled), updated_at = VALUES(updated_at)`, mockResult{rowsAffected: 1}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &AuthStore{db: db, now: time.Now}
	if err := store.ApplySeed(context.Background(), auth.Seed{Username: "alice", Password: "pw", ProfileID: "u1"}); err != nil {
		t.Fatalf("ApplySeed: %v", err)
	}
	if err := store.ApplySeed(context.Background(), auth.Seed{Username: "bob", Password: "pw", ProfileID: "bad id"}); err == nil {
		t.Fatalf("expected malformed profile id to be rejected")
	}
}
