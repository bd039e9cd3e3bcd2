package httpx

import (
	"net/http"
	"strings"

	"github.com/solarcalc/invoicing/internal/shared"
)

// ActorHeader carries the caller identity set by the upstream gateway.
const ActorHeader = "X-Actor-ID"

// RequireActor rejects requests without an actor id and stores it in the
// request context.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" {
			verr := &shared.ValidationError{}
			verr.Add("actor_id", "is required")
			RespondError(w, verr)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}
