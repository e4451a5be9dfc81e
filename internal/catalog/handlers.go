package catalog

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JustinTDCT/VideoJockey/internal/httputil"
)

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Get("/{id}", h.getByID)
	return r
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	videos, err := h.repo.List(r.Context(), ListFilter{
		Query:  r.URL.Query().Get("q"),
		Artist: r.URL.Query().Get("artist"),
		Limit:  httputil.QueryInt(r, "limit", 100),
		Offset: httputil.QueryInt(r, "offset", 0),
	})
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeInternal, "failed to list videos")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, videos)
}

func (h *Handler) getByID(w http.ResponseWriter, r *http.Request) {
	v, err := h.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, httputil.CodeNotFound, "video not found")
		return
	}
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeInternal, "failed to get video")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}
