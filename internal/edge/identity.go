package edge

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/StricklySoft/catalog-edge/pkg/auth"
	"github.com/StricklySoft/catalog-edge/pkg/server"
)

type principalBody struct {
	Principal auth.Principal `json:"principal"`
}

// MountIdentity registers GET /ping, open to guests, and GET /me, which
// requires an authenticated principal. Both echo the resolved principal.
func MountIdentity(r chi.Router) {
	r.Get("/ping", writePrincipal)
	r.With(auth.RequireAuthenticated).Get("/me", writePrincipal)
}

func writePrincipal(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, principalBody{Principal: auth.FromContext(r.Context())})
}
