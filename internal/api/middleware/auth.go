package middleware

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	apiContext "lanceiq/internal/api/context"
	"lanceiq/internal/pkg/errors"
	"lanceiq/internal/platform/auth"
	"lanceiq/internal/platform/repositories"
)

// Service tokens are issued with this prefix so the middleware can tell them
// apart from JWTs without parsing.
const serviceTokenPrefix = "lqsk_"

var errUnknownToken = stderrors.New("unknown or revoked service token")

type AuthMiddleware struct {
	tokenSvc      *auth.TokenService
	serviceTokens *repositories.ServiceTokenRepository
}

func NewAuthMiddleware(tokenSvc *auth.TokenService, serviceTokens *repositories.ServiceTokenRepository) *AuthMiddleware {
	return &AuthMiddleware{tokenSvc: tokenSvc, serviceTokens: serviceTokens}
}

func (m *AuthMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Missing authorization header", nil)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid authorization header format", nil)
			return
		}

		var actor *auth.Actor
		var err error
		if strings.HasPrefix(parts[1], serviceTokenPrefix) {
			actor, err = m.resolveServiceToken(parts[1])
		} else {
			actor, err = m.resolveUserToken(parts[1])
		}
		if err != nil {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid or expired token", nil)
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Actor, actor)
		next(w, r.WithContext(ctx))
	}
}

func (m *AuthMiddleware) resolveUserToken(token string) (*auth.Actor, error) {
	claims, err := m.tokenSvc.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	return &auth.Actor{
		ID:          claims.UserID,
		WorkspaceID: claims.WorkspaceID,
		Role:        claims.Role,
		Scopes:      claims.Scopes,
	}, nil
}

func (m *AuthMiddleware) resolveServiceToken(token string) (*auth.Actor, error) {
	record, err := m.serviceTokens.GetByHash(auth.HashServiceToken(token))
	if err != nil {
		return nil, err
	}
	if record == nil || !record.Usable(time.Now().Unix()) {
		return nil, errUnknownToken
	}
	m.serviceTokens.TouchLastUsed(record.ID)
	return &auth.Actor{
		ID:          record.ID,
		WorkspaceID: record.WorkspaceID,
		Service:     true,
		Scopes:      record.Scopes,
	}, nil
}
