package migrations

import (
	"github.com/NeuralTrust/TrustGuard/pkg/infra/database"
	"gorm.io/gorm"
)

func init() {
	database.RegisterMigration(database.Migration{
		ID:   "20260103_create_audit_events",
		Name: "Create audit_events table",

		Up: func(db *gorm.DB) error {
			if err := db.Exec(`
				CREATE TABLE IF NOT EXISTS audit_events (
					id                TEXT PRIMARY KEY,
					timestamp         TIMESTAMPTZ NOT NULL,
					level             TEXT NOT NULL,
					category          TEXT NOT NULL,
					action            TEXT NOT NULL,
					actor_ip          TEXT NOT NULL DEFAULT '',
					actor_fingerprint TEXT NOT NULL DEFAULT '',
					actor_user_id     TEXT NOT NULL DEFAULT '',
					resource          TEXT NOT NULL DEFAULT '',
					result            TEXT NOT NULL,
					details           JSONB,
					threat_score      INTEGER,
					tags              JSONB
				);
			`).Error; err != nil {
				return err
			}

			for _, stmt := range []string{
				`CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events (timestamp DESC);`,
				`CREATE INDEX IF NOT EXISTS idx_audit_events_action ON audit_events (action);`,
				`CREATE INDEX IF NOT EXISTS idx_audit_events_actor_ip ON audit_events (actor_ip);`,
			} {
				if err := db.Exec(stmt).Error; err != nil {
					return err
				}
			}
			return nil
		},

		Down: func(db *gorm.DB) error {
			return db.Exec(`DROP TABLE IF EXISTS audit_events;`).Error
		},
	})
}
