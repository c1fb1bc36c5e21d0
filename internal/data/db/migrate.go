package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/guildsense-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(types.AllModels()...)
}

func EnsureIndexes(db *gorm.DB) error {
	// uuid-ossp is already enabled in NewPostgresService, but safe to re-run
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return fmt.Errorf("enable uuid-ossp: %w", err)
	}

	// Claim path: one composite scan drains pending work in priority then
	// FIFO order.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_claim_order
		ON job (priority, created_at)
		WHERE status = 'pending';
	`).Error; err != nil {
		return fmt.Errorf("create idx_job_claim_order: %w", err)
	}

	// Dedup window lookups only ever touch pending rows with a key.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_dedup_pending
		ON job (dedup_key, created_at)
		WHERE status = 'pending' AND dedup_key <> '';
	`).Error; err != nil {
		return fmt.Errorf("create idx_job_dedup_pending: %w", err)
	}

	// Sweeper scan for expired leases.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_lease_expiry
		ON job (lease_expires_at)
		WHERE status = 'leased';
	`).Error; err != nil {
		return fmt.Errorf("create idx_job_lease_expiry: %w", err)
	}

	// Reconciler populations over sessions and chunks.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_session_unindexed
		ON session (guild_id, updated_at)
		WHERE is_indexed = false;
	`).Error; err != nil {
		return fmt.Errorf("create idx_session_unindexed: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_session_stale
		ON session (guild_id, updated_at)
		WHERE is_indexed = true;
	`).Error; err != nil {
		return fmt.Errorf("create idx_session_stale: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_chunk_unindexed
		ON attachment_chunk (guild_id, updated_at)
		WHERE is_indexed = false;
	`).Error; err != nil {
		return fmt.Errorf("create idx_chunk_unindexed: %w", err)
	}

	// Lexical fallback retrieval over session transcripts.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_session_fts
		ON session
		USING GIN (to_tsvector('english', content));
	`).Error; err != nil {
		return fmt.Errorf("create idx_session_fts: %w", err)
	}

	return nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureIndexes(s.db); err != nil {
		s.log.Error("Index migration failed", "error", err)
		return err
	}
	return nil
}
