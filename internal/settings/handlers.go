package settings

import (
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
	r.Put("/", h.update)
	r.Delete("/{key}", h.remove)
	return r
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	all, err := h.repo.GetAll(r.Context())
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeInternal, "failed to load settings")
		return
	}

	settingsMap := make(map[string]string)
	for _, s := range all {
		if secretKeys[s.Key] && s.Value != "" {
			s.Value = "set"
		}
		settingsMap[s.Key] = s.Value
	}
	httputil.WriteJSON(w, http.StatusOK, settingsMap)
}

// update stores every key of the body. Unknown keys reject the whole
// request before anything is written.
func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeInvalidJSON, "invalid request body")
		return
	}
	for key := range req {
		if !knownKeys[key] {
			httputil.WriteError(w, http.StatusBadRequest, httputil.CodeInvalidRequest, "unknown setting "+key)
			return
		}
	}

	for key, value := range req {
		if err := h.repo.Set(r.Context(), key, value); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeInternal, "failed to save setting")
			return
		}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "updated", "applies": "on restart"})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !knownKeys[key] {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeInvalidRequest, "unknown setting "+key)
		return
	}
	if err := h.repo.Delete(r.Context(), key); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeInternal, "failed to delete setting")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
