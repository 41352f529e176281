package database

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
)

const migrationsTable = "public.migration_version"

type Migration struct {
	ID   string
	Name string
	Up   func(db *gorm.DB) error
	Down func(db *gorm.DB) error
}

var (
	registryMu         sync.Mutex
	migrationsRegistry = make(map[string]Migration)
)

// RegisterMigration is called from init functions in the migrations package.
func RegisterMigration(m Migration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := migrationsRegistry[m.ID]; exists {
		panic(fmt.Sprintf("migration with ID %s already registered", m.ID))
	}
	migrationsRegistry[m.ID] = m
}

// registered returns the known migrations ordered by ID. IDs start with a date, so
// lexical order is application order.
func registered() []Migration {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]Migration, 0, len(migrationsRegistry))
	for _, m := range migrationsRegistry {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func pending(all []Migration, applied map[string]struct{}) []Migration {
	var out []Migration
	for _, m := range all {
		if _, ok := applied[m.ID]; !ok {
			out = append(out, m)
		}
	}
	return out
}

type MigrationsManager struct {
	db *gorm.DB
}

func NewMigrationsManager(db *gorm.DB) *MigrationsManager {
	return &MigrationsManager{db: db}
}

func (m *MigrationsManager) ensureMigrationsTable() error {
	return m.db.Exec(`
CREATE TABLE IF NOT EXISTS ` + migrationsTable + ` (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`).Error
}

func (m *MigrationsManager) appliedMigrations() (map[string]struct{}, error) {
	var ids []string
	if err := m.db.Raw("SELECT id FROM " + migrationsTable).Scan(&ids).Error; err != nil {
		return nil, err
	}
	applied := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		applied[id] = struct{}{}
	}
	return applied, nil
}

// ApplyPending runs each unapplied migration in its own transaction together with
// its version row, so a failing migration leaves no partial state behind.
func (m *MigrationsManager) ApplyPending() error {
	if err := m.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := m.appliedMigrations()
	if err != nil {
		return fmt.Errorf("load applied migrations: %w", err)
	}

	for _, mig := range pending(registered(), applied) {
		if mig.Up == nil {
			return fmt.Errorf("migration %s has no Up function", mig.ID)
		}
		err := m.db.Transaction(func(tx *gorm.DB) error {
			if err := mig.Up(tx); err != nil {
				return fmt.Errorf("apply migration %s (%s): %w", mig.ID, mig.Name, err)
			}
			if err := tx.Exec(
				"INSERT INTO "+migrationsTable+" (id, name, applied_at) VALUES (?, ?, ?)",
				mig.ID, mig.Name, time.Now(),
			).Error; err != nil {
				return fmt.Errorf("record migration %s: %w", mig.ID, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
