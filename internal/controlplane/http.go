package controlplane

import (
	"io"
	"net/http"

	"videoguard/internal/auth"
	"videoguard/internal/middleware"
)

// HTTPHandler exposes the Dispatcher as POST /api/analyzer, guarded by the
// same bearer-auth middleware the teacher's REST API uses.
func HTTPHandler(d *Dispatcher, authenticator *auth.Authenticator) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/analyzer", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, `{"error": "failed to read request body"}`, http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		resp, err := d.HandleJSON(r.Context(), body)
		if err != nil {
			http.Error(w, `{"error": "malformed request"}`, http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(resp)
	})

	return middleware.AuthMiddleware(authenticator)(mux)
}
