package handlers

import (
	"encoding/json"
	"net/http"

	"dropgen/internal/engine"
	"dropgen/internal/infra"
)

// App is the handler container; it carries the engine and logger into
// every endpoint.
type App struct {
	Engine *engine.Engine
	Logger infra.Logger
}

// NewApp creates the handler container.
func NewApp(eng *engine.Engine, logger infra.Logger) *App {
	return &App{Engine: eng, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}
