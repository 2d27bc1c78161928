package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// addRoleCheck constrains users.role to the known roles. Only PostgreSQL can
// add a CHECK constraint to an existing table; on SQLite the repository
// validates roles instead and this is a no-op.
func addRoleCheck(ctx context.Context, db *bun.DB) error {
	if db.Dialect().Name() != dialect.PG {
		return nil
	}
	_, err := db.ExecContext(ctx, `
		DO $$ BEGIN
			ALTER TABLE users ADD CONSTRAINT users_role_check CHECK (role IN ('USER', 'ADMIN'));
		EXCEPTION WHEN duplicate_object THEN NULL;
		END $$;
	`)
	if err != nil {
		return fmt.Errorf("failed to add users role check: %w", err)
	}
	return nil
}
