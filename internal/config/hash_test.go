package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateChecksumsWithReportDryRun(t *testing.T) {
	tmpDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("state:\n  path: x.db\n"), 0600); err != nil {
		t.Fatal(err)
	}

	report, err := GenerateChecksumsWithReport(tmpDir, []string{"config.yaml", "grants.yaml"}, true)
	if err != nil {
		t.Fatalf("GenerateChecksumsWithReport() failed: %v", err)
	}

	if report.Written {
		t.Fatal("report.Written = true, want false in dry-run")
	}
	if len(report.Files) != 2 {
		t.Fatalf("len(report.Files) = %d, want 2", len(report.Files))
	}
	if !report.Files[0].Exists || report.Files[0].Hash == "" {
		t.Fatal("config.yaml should exist with computed hash")
	}
	if report.Files[1].Exists || report.Files[1].Hash != "" {
		t.Fatal("grants.yaml should be reported as missing without hash")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ".checksums")); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestLockThenLoadDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "include: [grants.yaml]\nstate:\n  path: ./x.db\n")
	writeConfig(t, dir, "grants.yaml", "grants:\n  com.example.app: [a]\n")

	reports, err := Lock(path, false)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if len(reports) != 1 || !reports[0].Written || len(reports[0].Files) != 2 {
		t.Fatalf("reports = %+v", reports)
	}

	manifest, err := LoadChecksums(dir)
	if err != nil {
		t.Fatalf("LoadChecksums() failed: %v", err)
	}
	if len(manifest.Hashes) != 2 {
		t.Fatalf("len(manifest.Hashes) = %d, want 2", len(manifest.Hashes))
	}

	if _, err := Load(path); err != nil {
		t.Fatalf("Load() after lock failed: %v", err)
	}

	writeConfig(t, dir, "grants.yaml", "grants:\n  com.example.app: [\"*\"]\n")
	_, err = Load(path)
	if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("Load() after tampering error = %v, want hash mismatch", err)
	}
}

func TestLoadChecksumsRejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".checksums"), []byte("version: 2\nhashes: {}\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadChecksums(dir); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}
