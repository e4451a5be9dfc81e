package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type recordingSearcher struct {
	got      Query
	deadline bool
}

func (s *recordingSearcher) Search(ctx context.Context, q Query) Result {
	s.got = q
	_, s.deadline = ctx.Deadline()
	return Result{
		Items:    []Item{{Title: "Get Lucky", Artist: "Daft Punk", Source: SourceCombined, Confidence: 1}},
		Warnings: []string{"imvdb: details for 1: timeout"},
	}
}

type envelope struct {
	Status string `json:"status"`
	Data   struct {
		Items []Item `json:"items"`
		Total int    `json:"total"`
	} `json:"data"`
	Warnings []string `json:"warnings"`
	Error    *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func serve(t *testing.T, h *Handler, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return rec, env
}

func TestHandler_get(t *testing.T) {
	s := &recordingSearcher{}
	h := NewHandler(s, time.Second)

	rec, env := serve(t, h, httptest.NewRequest(http.MethodGet, "/?artist=Daft+Punk&title=Get+Lucky&limit=3&youtube=false", nil))
	if rec.Code != http.StatusOK || env.Status != "ok" {
		t.Fatalf("status = %d %q", rec.Code, env.Status)
	}
	want := Query{Artist: "Daft Punk", Title: "Get Lucky", MaxResults: 3, IncludeIMVDb: true}
	if s.got != want {
		t.Errorf("query = %+v, want %+v", s.got, want)
	}
	if !s.deadline {
		t.Error("search context has no deadline")
	}
	if env.Data.Total != 1 || len(env.Warnings) != 1 {
		t.Errorf("body = %+v", env)
	}
}

func TestHandler_post(t *testing.T) {
	s := &recordingSearcher{}
	h := NewHandler(s, 0)

	body := `{"q":"get lucky","max_results":5,"include_youtube":false}`
	rec, _ := serve(t, h, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	want := Query{FreeText: "get lucky", MaxResults: 5, IncludeIMVDb: true}
	if s.got != want {
		t.Errorf("query = %+v, want %+v", s.got, want)
	}
	if s.deadline {
		t.Error("zero timeout should not set a deadline")
	}

	rec, env := serve(t, h, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest || env.Error == nil || env.Error.Code != "INVALID_JSON" {
		t.Errorf("bad json: %d %+v", rec.Code, env.Error)
	}
}
