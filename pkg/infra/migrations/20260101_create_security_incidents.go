package migrations

import (
	"github.com/NeuralTrust/TrustGuard/pkg/infra/database"
	"gorm.io/gorm"
)

func init() {
	database.RegisterMigration(database.Migration{
		ID:   "20260101_create_security_incidents",
		Name: "Create security_incidents table",

		Up: func(db *gorm.DB) error {
			if err := db.Exec(`
				CREATE TABLE IF NOT EXISTS security_incidents (
					id                TEXT PRIMARY KEY,
					timestamp         TIMESTAMPTZ NOT NULL,
					severity          TEXT NOT NULL,
					category          TEXT NOT NULL,
					actor_ip          TEXT NOT NULL DEFAULT '',
					actor_fingerprint TEXT NOT NULL DEFAULT '',
					actor_user_id     TEXT NOT NULL DEFAULT '',
					evidence          JSONB,
					threat_score      INTEGER NOT NULL,
					auto_blocked      BOOLEAN NOT NULL DEFAULT FALSE,
					playbook_executed TEXT NOT NULL DEFAULT '',
					actions           JSONB,
					status            TEXT NOT NULL,
					created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`).Error; err != nil {
				return err
			}

			if err := db.Exec(`
				CREATE INDEX IF NOT EXISTS idx_security_incidents_timestamp
				ON security_incidents (timestamp DESC);
			`).Error; err != nil {
				return err
			}

			return db.Exec(`
				CREATE INDEX IF NOT EXISTS idx_security_incidents_actor_ip
				ON security_incidents (actor_ip);
			`).Error
		},

		Down: func(db *gorm.DB) error {
			return db.Exec(`DROP TABLE IF EXISTS security_incidents;`).Error
		},
	})
}
