package settings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JustinTDCT/VideoJockey/internal/config"
	"github.com/JustinTDCT/VideoJockey/internal/db"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	d, err := db.Connect(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	if err := db.Migrate(d); err != nil {
		t.Fatal(err)
	}
	return NewRepository(d)
}

func TestRepository_setGetDelete(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)

	if err := r.Set(ctx, KeyMaxRetries, "5"); err != nil {
		t.Fatal(err)
	}
	if err := r.Set(ctx, KeyMaxRetries, "6"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := r.Get(ctx, KeyMaxRetries)
	if err != nil || !ok || v != "6" {
		t.Errorf("Get = %q %v %v", v, ok, err)
	}
	if err := r.Set(ctx, "theme", "dark"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("unknown key: %v", err)
	}
	if err := r.Delete(ctx, KeyMaxRetries); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := r.Get(ctx, KeyMaxRetries); ok {
		t.Error("setting survived Delete")
	}
}

// Stored settings are what config.MergeFromDB overlays at startup.
func TestRepository_feedsConfig(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	for k, v := range map[string]string{
		KeyMaxConcurrentDownloads: "4",
		KeyExportNFO:              "false",
		KeyDownloadDir:            "/music",
	} {
		if err := r.Set(ctx, k, v); err != nil {
			t.Fatal(err)
		}
	}
	cfg := &config.Config{MaxConcurrentDownloads: 2, ExportNFO: true, DownloadDir: "/data/downloads"}
	cfg.MergeFromDB(r.db.DB)
	if cfg.MaxConcurrentDownloads != 4 || cfg.ExportNFO || cfg.DownloadDir != "/music" {
		t.Errorf("merged config = %+v", cfg)
	}
}

func TestHandler(t *testing.T) {
	r := newTestRepo(t)
	h := NewHandler(r).Router()

	do := func(method, path, body string) (int, string) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec.Code, rec.Body.String()
	}

	if code, _ := do(http.MethodPut, "/", `{"imvdb_api_key":"secret","max_retries":"2"}`); code != http.StatusOK {
		t.Fatalf("put: %d", code)
	}
	if code, body := do(http.MethodPut, "/", `{"max_retries":"9","theme":"dark"}`); code != http.StatusBadRequest {
		t.Errorf("unknown key: %d %s", code, body)
	}

	_, body := do(http.MethodGet, "/", "")
	var resp struct {
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data["imvdb_api_key"] != "set" || resp.Data["max_retries"] != "2" {
		t.Errorf("settings = %v", resp.Data)
	}

	if code, _ := do(http.MethodDelete, "/max_retries", ""); code != http.StatusOK {
		t.Errorf("delete: %d", code)
	}
	if code, _ := do(http.MethodDelete, "/theme", ""); code != http.StatusBadRequest {
		t.Errorf("delete unknown: %d", code)
	}
}
