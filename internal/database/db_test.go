package database

import (
	"path/filepath"
	"testing"
)

func TestInitialize_CreatesQueueStateTable(t *testing.T) {
	db, err := Initialize(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer db.Close()

	var name string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='upload_queue_state'").Scan(&name)
	if err != nil {
		t.Fatalf("upload_queue_state table missing: %v", err)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db, err := Initialize(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer db.Close()

	if err := RunMigrations(db); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}

	status, err := GetMigrationStatus(db)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(status) != 2 {
		t.Fatalf("GetMigrationStatus() returned %d migrations, want 2", len(status))
	}
	for _, m := range status {
		if !m.Applied {
			t.Errorf("migration %s not applied", m.Name)
		}
	}
	if status[0].Name != "001_upload_queue_state.sql" {
		t.Errorf("first migration = %s, want 001_upload_queue_state.sql", status[0].Name)
	}
}
