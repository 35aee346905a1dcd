package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	return path
}

func TestLoadEnvParsesEntries(t *testing.T) {
	content := "# comment\n" +
		"export SCALP_TEST_PLAIN=alpha\n" +
		"SCALP_TEST_DQ=\"beta\"\n" +
		"SCALP_TEST_SQ='gamma'\n" +
		"SCALP_TEST_EMPTY=\n" +
		"not a pair\n"
	for _, key := range []string{"SCALP_TEST_PLAIN", "SCALP_TEST_DQ", "SCALP_TEST_SQ", "SCALP_TEST_EMPTY"} {
		t.Setenv(key, "sentinel")
		_ = os.Unsetenv(key)
	}

	if err := LoadEnv(writeEnvFile(t, content)); err != nil {
		t.Fatalf("load env: %v", err)
	}

	want := map[string]string{
		"SCALP_TEST_PLAIN": "alpha",
		"SCALP_TEST_DQ":    "beta",
		"SCALP_TEST_SQ":    "gamma",
		"SCALP_TEST_EMPTY": "",
	}
	for key, expected := range want {
		if got := os.Getenv(key); got != expected {
			t.Fatalf("%s = %q, want %q", key, got, expected)
		}
	}
}

func TestLoadEnvKeepsExistingValues(t *testing.T) {
	t.Setenv("SCALP_TEST_KEEP", "from-process")
	if err := LoadEnv(writeEnvFile(t, "SCALP_TEST_KEEP=from-file\n")); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("SCALP_TEST_KEEP"); got != "from-process" {
		t.Fatalf("SCALP_TEST_KEEP = %q, want from-process", got)
	}
}

func TestLoadEnvMissingFileIsNoop(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
}
