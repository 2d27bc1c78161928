package migrations

import (
	"context"
	"fmt"

	"github.com/iKora128/medical-wiki/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20260301000000, down_20260301000000)
}

// up_20260301000000 creates the users table backing the role store
func up_20260301000000(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating users table...")

	_, err := db.NewCreateTable().
		Model((*models.User)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}

	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`); err != nil {
		return fmt.Errorf("failed to create users email index: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_users_created_at ON users(created_at)`); err != nil {
		return fmt.Errorf("failed to create users created_at index: %w", err)
	}

	if err := addRoleCheck(ctx, db); err != nil {
		return err
	}
	fmt.Println(" OK")

	return nil
}

// down_20260301000000 drops the users table
func down_20260301000000(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping users table...")

	_, err := db.NewDropTable().
		Model((*models.User)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop users table: %w", err)
	}
	fmt.Println(" OK")

	return nil
}
