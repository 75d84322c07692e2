package handlers

import (
	"database/sql"
	"net/http"

	"lanceiq/internal/pkg/errors"
)

type HealthHandler struct {
	db *sql.DB
}

func NewHealthHandler(db *sql.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(); err != nil {
		errors.WriteError(w, http.StatusServiceUnavailable, errors.ErrCodeInternal, "Database unavailable", nil)
		return
	}
	errors.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
