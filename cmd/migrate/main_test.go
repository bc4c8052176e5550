package main

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"testing"
)

func TestMigrationFilenamePattern(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  int
		name     string
	}{
		{"0001_init_schema_migrations.sql", true, 1, "init_schema_migrations"},
		{"0012_add_import_batches.sql", true, 12, "add_import_batches"},
		{"001_invalid.sql", false, 0, ""},       // wrong number format
		{"0001_test", false, 0, ""},             // missing .sql
		{"0001.sql", false, 0, ""},              // missing name
		{"invalid_0001_test.sql", false, 0, ""}, // wrong order
		{"0001_test.sql.bak", false, 0, ""},     // wrong extension
	}

	pattern := regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			matches := pattern.FindStringSubmatch(tt.filename)
			if (matches != nil) != tt.valid {
				t.Fatalf("match = %v, want valid = %v", matches != nil, tt.valid)
			}
			if !tt.valid {
				return
			}

			version, err := strconv.Atoi(matches[1])
			if err != nil {
				t.Fatalf("parse version: %v", err)
			}
			if version != tt.version {
				t.Errorf("version = %d, want %d", version, tt.version)
			}
			if matches[2] != tt.name {
				t.Errorf("name = %q, want %q", matches[2], tt.name)
			}
		})
	}
}

func TestReadMigrations(t *testing.T) {
	dir := t.TempDir()

	writeFile := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	writeFile("0002_add_receipts.sql", "CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.receipts` (receipt_id STRING);")
	writeFile("0001_init.sql", "CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.documents` (document_id STRING);")
	writeFile("notes.txt", "not a migration")

	oldDir, oldProject, oldDataset := *migrationsDir, *projectID, *datasetID
	*migrationsDir = dir
	*projectID = "test-project"
	*datasetID = "test_dataset"
	defer func() {
		*migrationsDir, *projectID, *datasetID = oldDir, oldProject, oldDataset
	}()

	migrations, err := readMigrations()
	if err != nil {
		t.Fatalf("readMigrations: %v", err)
	}

	if len(migrations) != 2 {
		t.Fatalf("got %d migrations, want 2", len(migrations))
	}

	// Sorted by version regardless of directory order
	if migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Errorf("versions = %d, %d; want 1, 2", migrations[0].Version, migrations[1].Version)
	}

	if migrations[0].Name != "init" {
		t.Errorf("name = %q, want %q", migrations[0].Name, "init")
	}

	// Placeholders substituted in SQL
	want := "CREATE TABLE `test-project.test_dataset.documents` (document_id STRING);"
	if migrations[0].SQL != want {
		t.Errorf("SQL = %q, want %q", migrations[0].SQL, want)
	}

	// Checksum computed over the original content, before substitution
	original := "CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.documents` (document_id STRING);"
	wantSum := fmt.Sprintf("%x", sha256.Sum256([]byte(original)))
	if migrations[0].Checksum != wantSum {
		t.Errorf("checksum = %q, want %q", migrations[0].Checksum, wantSum)
	}
}

func TestReadMigrationsMissingDir(t *testing.T) {
	oldDir := *migrationsDir
	*migrationsDir = filepath.Join(t.TempDir(), "does-not-exist")
	defer func() { *migrationsDir = oldDir }()

	if _, err := readMigrations(); err == nil {
		t.Fatal("expected error for missing migrations directory")
	}
}
