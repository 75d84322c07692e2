package handlers

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	apiContext "lanceiq/internal/api/context"
	"lanceiq/internal/platform/auth"
)

func actorFrom(r *http.Request) *auth.Actor {
	actor, _ := r.Context().Value(apiContext.Actor).(*auth.Actor)
	return actor
}

func param(r *http.Request, name string) string {
	ps, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	return ps.ByName(name)
}
