package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/JustinTDCT/VideoJockey/internal/fetcher"
)

// repoActions applies user operations straight to the repository, standing
// in for the download coordinator.
type repoActions struct{ r *Repository }

func (a repoActions) Retry(ctx context.Context, id string) (bool, error) {
	return a.r.RetryFailed(ctx, id)
}
func (a repoActions) Reset(ctx context.Context, id string) (bool, error) {
	return a.r.ResetToQueued(ctx, id)
}
func (a repoActions) Cancel(ctx context.Context, id string) (bool, error) { return a.r.Cancel(ctx, id) }
func (a repoActions) Remove(ctx context.Context, id string) (bool, error) {
	return a.r.SoftDelete(ctx, id)
}

type stubTitles struct {
	meta  *fetcher.Metadata
	err   error
	calls int
}

func (s *stubTitles) FetchMetadata(ctx context.Context, url string) (*fetcher.Metadata, error) {
	s.calls++
	return s.meta, s.err
}

type countingNotifier struct{ n int }

func (c *countingNotifier) Broadcast(event string, data interface{}) { c.n++ }

type apiResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func do(t *testing.T, h *Handler, method, path, body string) (int, apiResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	var resp apiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, resp
}

func errorCode(resp apiResponse) string {
	if resp.Error == nil {
		return ""
	}
	return resp.Error.Code
}

func TestHandler_enqueue(t *testing.T) {
	repo := newTestRepo(t)
	titles := &stubTitles{meta: &fetcher.Metadata{Title: "Daft Punk - Get Lucky (Official Video)", Track: "Get Lucky"}}
	n := &countingNotifier{}
	h := NewHandler(repo, repoActions{repo}, titles, n)

	code, resp := do(t, h, http.MethodPost, "/", `{"url":" https://youtu.be/5NV6Rdv1a3I "}`)
	if code != http.StatusCreated {
		t.Fatalf("status = %d, error %s", code, errorCode(resp))
	}
	var req Request
	if err := json.Unmarshal(resp.Data, &req); err != nil {
		t.Fatal(err)
	}
	if req.URL != "https://youtu.be/5NV6Rdv1a3I" || req.Title != "Get Lucky" || req.Priority != DefaultPriority {
		t.Errorf("request = %+v", req)
	}
	if req.Status != StatusQueued || n.n != 1 {
		t.Errorf("status %s, notifications %d", req.Status, n.n)
	}

	// An explicit title skips the lookup; zero priority is kept.
	code, resp = do(t, h, http.MethodPost, "/", `{"url":"https://youtu.be/x","title":"Mine","priority":0}`)
	if code != http.StatusCreated {
		t.Fatalf("status = %d", code)
	}
	json.Unmarshal(resp.Data, &req)
	if req.Title != "Mine" || req.Priority != 0 || titles.calls != 1 {
		t.Errorf("request = %+v, lookups = %d", req, titles.calls)
	}
}

func TestHandler_enqueueTitleLookupFails(t *testing.T) {
	repo := newTestRepo(t)
	h := NewHandler(repo, repoActions{repo}, &stubTitles{err: errors.New("unsupported url")}, nil)

	code, resp := do(t, h, http.MethodPost, "/", `{"url":"https://example.com/v"}`)
	if code != http.StatusCreated {
		t.Fatalf("status = %d", code)
	}
	var req Request
	json.Unmarshal(resp.Data, &req)
	if req.Title != "" {
		t.Errorf("title = %q", req.Title)
	}
}

func TestHandler_enqueueRejects(t *testing.T) {
	repo := newTestRepo(t)
	h := NewHandler(repo, repoActions{repo}, nil, nil)

	tests := []struct {
		body string
		code string
	}{
		{`{"url":"   "}`, "INVALID_REQUEST"},
		{``, "INVALID_REQUEST"},
		{`{"url":`, "INVALID_JSON"},
	}
	for _, tt := range tests {
		code, resp := do(t, h, http.MethodPost, "/", tt.body)
		if code != http.StatusBadRequest || errorCode(resp) != tt.code {
			t.Errorf("body %q: %d %s, want 400 %s", tt.body, code, errorCode(resp), tt.code)
		}
	}
}

func TestHandler_listAndStats(t *testing.T) {
	repo := newTestRepo(t)
	h := NewHandler(repo, repoActions{repo}, nil, nil)
	a := mustEnqueue(t, repo, "https://youtu.be/a", 5)
	mustEnqueue(t, repo, "https://youtu.be/b", 5)
	if ok, _ := repo.Cancel(context.Background(), a.ID); !ok {
		t.Fatal("cancel failed")
	}

	_, resp := do(t, h, http.MethodGet, "/?status=cancelled", "")
	var reqs []Request
	json.Unmarshal(resp.Data, &reqs)
	if len(reqs) != 1 || reqs[0].ID != a.ID {
		t.Errorf("cancelled = %v", urls(reqs))
	}

	code, resp := do(t, h, http.MethodGet, "/?status=paused", "")
	if code != http.StatusBadRequest {
		t.Errorf("unknown status: %d %s", code, errorCode(resp))
	}

	_, resp = do(t, h, http.MethodGet, "/stats", "")
	var counts map[Status]int
	json.Unmarshal(resp.Data, &counts)
	if counts[StatusQueued] != 1 || counts[StatusCancelled] != 1 {
		t.Errorf("counts = %v", counts)
	}

	_, resp = do(t, h, http.MethodGet, "/?status=failed", "")
	if string(resp.Data) != "[]" {
		t.Errorf("empty list = %s", resp.Data)
	}
}

func TestHandler_actions(t *testing.T) {
	repo := newTestRepo(t)
	h := NewHandler(repo, repoActions{repo}, nil, nil)
	req := mustEnqueue(t, repo, "https://youtu.be/a", 5)

	code, resp := do(t, h, http.MethodGet, "/"+req.ID, "")
	if code != http.StatusOK {
		t.Fatalf("get: %d", code)
	}
	code, resp = do(t, h, http.MethodGet, "/missing", "")
	if code != http.StatusNotFound || errorCode(resp) != "NOT_FOUND" {
		t.Errorf("get missing: %d %s", code, errorCode(resp))
	}

	// Retry only applies to failed requests.
	code, resp = do(t, h, http.MethodPost, "/"+req.ID+"/retry", "")
	if code != http.StatusConflict || errorCode(resp) != "INVALID_STATE" {
		t.Errorf("retry queued: %d %s", code, errorCode(resp))
	}

	code, resp = do(t, h, http.MethodPost, "/"+req.ID+"/cancel", "")
	if code != http.StatusOK {
		t.Fatalf("cancel: %d %s", code, errorCode(resp))
	}
	var got Request
	json.Unmarshal(resp.Data, &got)
	if got.Status != StatusCancelled {
		t.Errorf("after cancel: %s", got.Status)
	}

	code, _ = do(t, h, http.MethodPost, "/"+req.ID+"/reset", "")
	if code != http.StatusOK {
		t.Errorf("reset cancelled: %d", code)
	}

	code, resp = do(t, h, http.MethodDelete, "/"+req.ID, "")
	if code != http.StatusOK {
		t.Fatalf("delete: %d", code)
	}
	json.Unmarshal(resp.Data, &got)
	if !got.IsDeleted {
		t.Error("delete did not mark the request deleted")
	}

	code, resp = do(t, h, http.MethodDelete, "/missing", "")
	if code != http.StatusNotFound {
		t.Errorf("delete missing: %d %s", code, errorCode(resp))
	}
}
