package handler

import (
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	capturehandler "github.com/shadowsculpt/backend/internal/handler/capture"
	middlewarePkg "github.com/shadowsculpt/backend/internal/middleware"
	"github.com/shadowsculpt/backend/internal/service/storage"
	"github.com/shadowsculpt/backend/pkg/utils"
)

// NewRouter wires HTTP routes to the capture pipeline.
func NewRouter(layout *storage.Layout, coordinator *capturehandler.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"message": "Shadow Sculpture Backend is Live",
			"status":  "running",
		})
	})

	// Session artifacts: captured frames and the finished model.
	r.Get("/files/{sessionID}/{filename}", func(w http.ResponseWriter, req *http.Request) {
		sessionID := chi.URLParam(req, "sessionID")
		filename := chi.URLParam(req, "filename")

		path, err := layout.Resolve(sessionID, filename)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) || errors.Is(err, storage.ErrInvalidName) {
				utils.RespondError(w, http.StatusNotFound, "file not found")
				return
			}
			log.Printf("[files] resolve %s/%s failed: %v", sessionID, filename, err)
			utils.RespondError(w, http.StatusInternalServerError, "failed to read file")
			return
		}
		http.ServeFile(w, req, path)
	})

	coordinator.RegisterRoutes(r)

	return r
}
