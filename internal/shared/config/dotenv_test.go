package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseEnvLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		key  string
		val  string
		ok   bool
	}{
		{"plain", "QUEUE_URL=http://localhost:4566/q", "QUEUE_URL", "http://localhost:4566/q", true},
		{"export prefix", "export DB_HOST=localhost", "DB_HOST", "localhost", true},
		{"double quoted", `SCORE_MODEL="gpt-4o-mini"`, "SCORE_MODEL", "gpt-4o-mini", true},
		{"single quoted", "DB_PASSWORD='p=ss word'", "DB_PASSWORD", "p=ss word", true},
		{"surrounding space", "  PORT = 8080  ", "PORT", "8080", true},
		{"empty value", "CACHE_BUCKET=", "CACHE_BUCKET", "", true},
		{"comment", "# DB_HOST=ignored", "", "", false},
		{"blank", "   ", "", "", false},
		{"no equals", "JUSTAWORD", "", "", false},
		{"empty key", "=value", "", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			key, val, ok := parseEnvLine(tc.line)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if key != tc.key || val != tc.val {
				t.Fatalf("got %q=%q, want %q=%q", key, val, tc.key, tc.val)
			}
		})
	}
}

func TestLoadEnvFilesKeepsExistingEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "DOTENV_TEST_SET=from-file\nDOTENV_TEST_KEPT=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOTENV_TEST_KEPT", "from-env")
	os.Unsetenv("DOTENV_TEST_SET")
	t.Cleanup(func() { os.Unsetenv("DOTENV_TEST_SET") })

	loadEnvFiles(path, filepath.Join(t.TempDir(), "missing.env"))

	if got := os.Getenv("DOTENV_TEST_SET"); got != "from-file" {
		t.Fatalf("DOTENV_TEST_SET = %q, want value from file", got)
	}
	if got := os.Getenv("DOTENV_TEST_KEPT"); got != "from-env" {
		t.Fatalf("DOTENV_TEST_KEPT = %q, real environment must win over the file", got)
	}
}
