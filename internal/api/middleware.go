// Package api implements the notebase REST API using chi.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sort"
	"strings"
)

type keyNameCtx struct{}

// KeyName returns the name of the API key that authenticated the request.
func KeyName(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(keyNameCtx{}).(string)
	return name, ok && name != ""
}

// AuthMiddleware returns middleware that validates a Bearer token against
// named API keys (name -> token). If enabled is false, all requests pass
// through (disabled mode). Otherwise the request must carry
// "Authorization: Bearer <token>" for one of the keys, and the key's name is
// stored in the request context.
func AuthMiddleware(enabled bool, keys map[string]string) func(http.Handler) http.Handler {
	names := make([]string, 0, len(keys))
	for name := range keys {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			given := []byte(strings.TrimPrefix(auth, "Bearer "))

			// Every key is compared so timing does not reveal which one matched.
			matched := ""
			for _, name := range names {
				if subtle.ConstantTimeCompare(given, []byte(keys[name])) == 1 && matched == "" {
					matched = name
				}
			}
			if matched == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), keyNameCtx{}, matched)))
		})
	}
}
