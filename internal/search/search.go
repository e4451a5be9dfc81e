package search

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JustinTDCT/VideoJockey/internal/httputil"
)

type Searcher interface {
	Search(ctx context.Context, q Query) Result
}

type Handler struct {
	searcher Searcher
	timeout  time.Duration
}

// NewHandler serves searches, each bounded by timeout when it is positive.
func NewHandler(searcher Searcher, timeout time.Duration) *Handler {
	return &Handler{searcher: searcher, timeout: timeout}
}

func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.searchQuery)
	r.Post("/", h.searchBody)
	return r
}

// searchQuery handles GET /?q=&artist=&title=&limit=. imvdb=false or
// youtube=false leaves that provider out.
func (h *Handler) searchQuery(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	h.run(w, r, Query{
		FreeText:       v.Get("q"),
		Artist:         v.Get("artist"),
		Title:          v.Get("title"),
		MaxResults:     httputil.QueryInt(r, "limit", DefaultMaxResults),
		IncludeIMVDb:   v.Get("imvdb") != "false",
		IncludeYouTube: v.Get("youtube") != "false",
	})
}

func (h *Handler) searchBody(w http.ResponseWriter, r *http.Request) {
	q := Query{IncludeIMVDb: true, IncludeYouTube: true}
	if err := httputil.ReadJSON(r, &q); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeInvalidJSON, "invalid request body")
		return
	}
	h.run(w, r, q)
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request, q Query) {
	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	res := h.searcher.Search(ctx, q)
	httputil.WriteWithWarnings(w, http.StatusOK, map[string]interface{}{
		"items": res.Items,
		"total": len(res.Items),
	}, res.Warnings)
}
