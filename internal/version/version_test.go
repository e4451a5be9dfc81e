package version

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "version.json")
	os.WriteFile(good, []byte(`{"version":"1.4.0"}`), 0o644)
	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte(`{`), 0o644)

	tests := []struct {
		path string
		want string
	}{
		{good, "1.4.0"},
		{bad, "0.0.0"},
		{filepath.Join(dir, "missing.json"), "0.0.0"},
	}
	for _, tt := range tests {
		if got := loadFile(tt.path).Version; got != tt.want {
			t.Errorf("loadFile(%s) = %q, want %q", filepath.Base(tt.path), got, tt.want)
		}
	}
}

func TestLoad_stamped(t *testing.T) {
	old := Version
	Version = "2.0.0"
	defer func() { Version = old }()
	if got := Load().Version; got != "2.0.0" {
		t.Errorf("Load() = %q", got)
	}
}
