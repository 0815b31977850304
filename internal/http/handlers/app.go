package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/omnishot/batchd/internal/infra"
	"github.com/omnishot/batchd/internal/scheduler"
	"github.com/omnishot/batchd/internal/storage"
)

// App bundles the dependencies shared by all HTTP handlers.
type App struct {
	Scheduler *scheduler.Scheduler
	Files     *storage.FileStore
	Logger    infra.Logger
}

func NewApp(sched *scheduler.Scheduler, files *storage.FileStore, logger infra.Logger) *App {
	return &App{Scheduler: sched, Files: files, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}
