package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/diagnosis/railwatch/internal/http/response"
	"github.com/diagnosis/railwatch/pkg/auth"
	"github.com/diagnosis/railwatch/pkg/logger"
)

type ctxKey string

const CtxDialogClaims ctxKey = "dialog_claims"

// RequireDialog admits requests carrying a valid dialog token issued by the
// toggle endpoint.
func RequireDialog(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				response.Unauthorized(w, "invalid authorization header")
				return
			}
			claims, err := auth.ParseDialogToken(strings.TrimPrefix(authz, "Bearer "), secret)
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "invalid dialog token", response.CodeInvalidToken)
				return
			}
			ctx := context.WithValue(r.Context(), CtxDialogClaims, claims)
			ctx = context.WithValue(ctx, logger.SessionIDKey, claims.SessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func DialogClaims(r *http.Request) *auth.DialogClaims {
	if v, ok := r.Context().Value(CtxDialogClaims).(*auth.DialogClaims); ok {
		return v
	}
	return nil
}
