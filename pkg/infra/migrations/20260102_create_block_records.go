package migrations

import (
	"github.com/NeuralTrust/TrustGuard/pkg/infra/database"
	"gorm.io/gorm"
)

func init() {
	database.RegisterMigration(database.Migration{
		ID:   "20260102_create_block_records",
		Name: "Create block_records table for IP blocks and fingerprint quarantines",

		Up: func(db *gorm.DB) error {
			if err := db.Exec(`
				CREATE TABLE IF NOT EXISTS block_records (
					subject    TEXT NOT NULL,
					kind       TEXT NOT NULL,
					reason     TEXT NOT NULL DEFAULT '',
					blocked_at TIMESTAMPTZ NOT NULL,
					expires_at TIMESTAMPTZ NOT NULL,
					temporary  BOOLEAN NOT NULL DEFAULT FALSE,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (subject, kind)
				);
			`).Error; err != nil {
				return err
			}

			// Rehydration only reads unexpired rows
			return db.Exec(`
				CREATE INDEX IF NOT EXISTS idx_block_records_expires_at
				ON block_records (expires_at);
			`).Error
		},

		Down: func(db *gorm.DB) error {
			return db.Exec(`DROP TABLE IF EXISTS block_records;`).Error
		},
	})
}
