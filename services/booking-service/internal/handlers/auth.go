package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/algotwist369/bookby247/libs/auth"
	"github.com/algotwist369/bookby247/services/booking-service/internal/model"
)

type actorKey struct{}

// RequireActor turns a bearer token into the request's Actor.
func RequireActor(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
				return
			}
			claims, err := auth.ParseAndVerifyHS256(token, secret, time.Now())
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid token"})
				return
			}
			role := model.Role(claims.Role)
			if !role.Valid() || role == model.RolePublic {
				writeJSON(w, http.StatusForbidden, errorResponse{Error: "role not allowed"})
				return
			}
			actor := model.Actor{ID: claims.Sub, Role: role, BusinessID: claims.BusinessID}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
		})
	}
}

func actorFrom(ctx context.Context) model.Actor {
	a, _ := ctx.Value(actorKey{}).(model.Actor)
	return a
}
