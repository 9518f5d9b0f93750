package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadPrefersFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("  from-file\n"), 0o600); err != nil {
		t.Fatalf("write token: %v", err)
	}

	got, err := Load(Source{Name: "backend token", Value: "inline", File: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-file" {
		t.Fatalf("expected file value, got %q", got)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte(" \n"), 0o600); err != nil {
		t.Fatalf("write token: %v", err)
	}

	_, err := Load(Source{Name: "backend token", File: path})
	if err == nil || !strings.Contains(err.Error(), "is empty") {
		t.Fatalf("expected empty file error, got %v", err)
	}
}

func TestLoadFallsBackToEnv(t *testing.T) {
	t.Setenv("AUTOAPPLY_TEST_SECRET", " env-value ")

	got, err := Load(Source{Name: "api key", Env: "AUTOAPPLY_TEST_SECRET"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "env-value" {
		t.Fatalf("expected env value, got %q", got)
	}
}

func TestLoadMissing(t *testing.T) {
	t.Setenv("AUTOAPPLY_TEST_SECRET", "")

	_, err := Load(Source{Name: "api key", Env: "AUTOAPPLY_TEST_SECRET"})
	if err == nil || !strings.Contains(err.Error(), "$AUTOAPPLY_TEST_SECRET") {
		t.Fatalf("expected missing secret error, got %v", err)
	}

	got, err := Optional(Source{Name: "api key"})
	if err != nil || got != "" {
		t.Fatalf("expected optional empty secret, got %q, %v", got, err)
	}

	if _, err := Optional(Source{Name: "api key", File: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Fatalf("expected file error to surface from Optional")
	}
}
