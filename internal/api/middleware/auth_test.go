package middleware

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	apiContext "lanceiq/internal/api/context"
	"lanceiq/internal/platform/auth"
	"lanceiq/internal/platform/config"
	"lanceiq/internal/platform/repositories"
)

func TestAuthMiddleware(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	tokenSvc := auth.NewTokenService(config.JWTConfig{
		Secret:         "test-secret",
		AccessTokenTTL: time.Hour,
	})
	serviceTokens := repositories.NewServiceTokenRepository(db)
	middleware := NewAuthMiddleware(tokenSvc, serviceTokens)

	t.Run("Valid JWT", func(t *testing.T) {
		token, err := tokenSvc.GenerateAccessToken("user_1", "ws_1", "operator", "op@example.com")
		if err != nil {
			t.Fatalf("generate token: %v", err)
		}

		req, _ := http.NewRequest("POST", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			actor := r.Context().Value(apiContext.Actor).(*auth.Actor)
			if actor.ID != "user_1" || actor.WorkspaceID != "ws_1" || actor.Role != "operator" {
				t.Errorf("unexpected actor: %+v", actor)
			}
			if actor.Service {
				t.Error("JWT actor should not be marked as a service")
			}
			w.WriteHeader(http.StatusOK)
		})
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
		}
	})

	t.Run("Valid service token", func(t *testing.T) {
		raw := "lqsk_live_abc123"
		hash := auth.HashServiceToken(raw)

		rows := sqlmock.NewRows([]string{"id", "workspace_id", "name", "token_hash", "token_prefix", "scopes", "last_used_at", "expires_at", "created_at", "revoked_at"}).
			AddRow("stok_1", "ws_1", "scheduler", hash, "lqsk_live", `["run_worker","run_reconciliation"]`, nil, nil, 1234567890, nil)
		mock.ExpectQuery("SELECT (.+) FROM service_tokens WHERE token_hash = ?").
			WithArgs(hash).
			WillReturnRows(rows)
		mock.ExpectExec("UPDATE service_tokens SET last_used_at").
			WillReturnResult(sqlmock.NewResult(0, 1))

		req, _ := http.NewRequest("POST", "/", nil)
		req.Header.Set("Authorization", "Bearer "+raw)

		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			actor := r.Context().Value(apiContext.Actor).(*auth.Actor)
			if actor.ID != "stok_1" || actor.WorkspaceID != "ws_1" {
				t.Errorf("unexpected actor: %+v", actor)
			}
			if !actor.Service {
				t.Error("service token actor should be marked as a service")
			}
			if len(actor.Scopes) != 2 {
				t.Errorf("expected 2 scopes, got %v", actor.Scopes)
			}
			w.WriteHeader(http.StatusOK)
		})
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
		}
	})

	t.Run("Revoked service token", func(t *testing.T) {
		raw := "lqsk_live_revoked"
		hash := auth.HashServiceToken(raw)
		revokedAt := int64(1234567999)

		rows := sqlmock.NewRows([]string{"id", "workspace_id", "name", "token_hash", "token_prefix", "scopes", "last_used_at", "expires_at", "created_at", "revoked_at"}).
			AddRow("stok_2", "ws_1", "old", hash, "lqsk_live", `[]`, nil, nil, 1234567890, revokedAt)
		mock.ExpectQuery("SELECT (.+) FROM service_tokens WHERE token_hash = ?").
			WithArgs(hash).
			WillReturnRows(rows)

		req, _ := http.NewRequest("POST", "/", nil)
		req.Header.Set("Authorization", "Bearer "+raw)

		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			t.Error("Handler should not be called")
		})
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusUnauthorized)
		}
	})

	t.Run("Unknown service token", func(t *testing.T) {
		raw := "lqsk_live_missing"
		mock.ExpectQuery("SELECT (.+) FROM service_tokens WHERE token_hash = ?").
			WithArgs(auth.HashServiceToken(raw)).
			WillReturnError(sql.ErrNoRows)

		req, _ := http.NewRequest("POST", "/", nil)
		req.Header.Set("Authorization", "Bearer "+raw)

		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			t.Error("Handler should not be called")
		})
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusUnauthorized)
		}
	})

	t.Run("Missing header", func(t *testing.T) {
		req, _ := http.NewRequest("POST", "/", nil)

		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			t.Error("Handler should not be called")
		})
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusUnauthorized)
		}
	})
}
