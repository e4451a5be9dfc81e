package queue

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JustinTDCT/VideoJockey/internal/fetcher"
	"github.com/JustinTDCT/VideoJockey/internal/httputil"
)

const titleLookupTimeout = 15 * time.Second

// Actions are the user operations that must go through the download
// coordinator so they never race a running worker.
type Actions interface {
	Retry(ctx context.Context, id string) (bool, error)
	Reset(ctx context.Context, id string) (bool, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Remove(ctx context.Context, id string) (bool, error)
}

type TitleResolver interface {
	FetchMetadata(ctx context.Context, url string) (*fetcher.Metadata, error)
}

type EventNotifier interface {
	Broadcast(event string, data interface{})
}

type Handler struct {
	repo     *Repository
	actions  Actions
	titles   TitleResolver
	notifier EventNotifier
}

// NewHandler builds the queue API. titles and notifier may be nil.
func NewHandler(repo *Repository, actions Actions, titles TitleResolver, notifier EventNotifier) *Handler {
	return &Handler{repo: repo, actions: actions, titles: titles, notifier: notifier}
}

func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Post("/", h.enqueue)
	r.Get("/stats", h.stats)
	r.Get("/{id}", h.getByID)
	r.Post("/{id}/retry", h.action(h.actions.Retry))
	r.Post("/{id}/reset", h.action(h.actions.Reset))
	r.Post("/{id}/cancel", h.action(h.actions.Cancel))
	r.Delete("/{id}", h.action(h.actions.Remove))
	return r
}

type enqueueRequest struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	Priority   *int   `json:"priority"`
	OutputPath string `json:"output_path"`
	Format     string `json:"format"`
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var body enqueueRequest
	if err := httputil.ReadJSON(r, &body); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeInvalidJSON, "invalid request body")
		return
	}
	body.URL = strings.TrimSpace(body.URL)
	if body.URL == "" {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeInvalidRequest, "url is required")
		return
	}
	priority := DefaultPriority
	if body.Priority != nil {
		priority = *body.Priority
	}
	title := strings.TrimSpace(body.Title)
	if title == "" {
		title = h.lookupTitle(r.Context(), body.URL)
	}

	req, err := h.repo.Enqueue(r.Context(), EnqueueParams{
		URL:        body.URL,
		Title:      title,
		Priority:   priority,
		OutputPath: body.OutputPath,
		Format:     body.Format,
	})
	if err != nil {
		log.Printf("[api] enqueue %s: %v", body.URL, err)
		httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeInternal, "failed to enqueue")
		return
	}
	if h.notifier != nil {
		h.notifier.Broadcast("queue:updated", req)
	}
	httputil.WriteJSON(w, http.StatusCreated, req)
}

// lookupTitle asks yt-dlp for a display title. Failure leaves it empty; the
// download fills it in later.
func (h *Handler) lookupTitle(ctx context.Context, url string) string {
	if h.titles == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, titleLookupTimeout)
	defer cancel()
	meta, err := h.titles.FetchMetadata(ctx, url)
	if err != nil {
		log.Printf("[api] title lookup for %s: %v", url, err)
		return ""
	}
	return meta.TitleGuess()
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := Status(q.Get("status"))
	if status != "" && !status.Valid() {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeInvalidRequest, "unknown status "+string(status))
		return
	}
	reqs, err := h.repo.List(r.Context(), ListFilter{
		Status:         status,
		IncludeDeleted: q.Get("include_deleted") == "true",
		Limit:          httputil.QueryInt(r, "limit", 100),
		Offset:         httputil.QueryInt(r, "offset", 0),
	})
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeInternal, "failed to list queue")
		return
	}
	if reqs == nil {
		reqs = []Request{}
	}
	httputil.WriteJSON(w, http.StatusOK, reqs)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.repo.Counts(r.Context())
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeInternal, "failed to count queue")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, counts)
}

func (h *Handler) getByID(w http.ResponseWriter, r *http.Request) {
	req, err := h.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, httputil.CodeNotFound, "request not found")
		return
	}
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeInternal, "failed to get request")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

// action runs a coordinator operation. A refused transition is reported as
// NOT_FOUND when the request does not exist and INVALID_STATE otherwise.
func (h *Handler) action(op func(context.Context, string) (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ok, err := op(r.Context(), id)
		if err != nil {
			log.Printf("[api] %s %s: %v", r.Method, r.URL.Path, err)
			httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeInternal, "operation failed")
			return
		}
		req, err := h.repo.Get(r.Context(), id)
		if errors.Is(err, ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, httputil.CodeNotFound, "request not found")
			return
		}
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeInternal, "failed to get request")
			return
		}
		if !ok {
			httputil.WriteError(w, http.StatusConflict, httputil.CodeInvalidState,
				"request is "+string(req.Status))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, req)
	}
}
