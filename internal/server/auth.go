package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/ragcore-go/internal/logging"
)

// apiKeyHeader is accepted alongside Authorization for sync jobs that push
// documents and cannot set a Bearer header.
const apiKeyHeader = "X-API-Key"

// authMiddleware rejects requests that do not present one of the configured
// keys. keys is a comma-separated list so a new key can be rolled out before
// the old one is withdrawn. An empty list disables auth.
//
// A key is read from "Authorization: Bearer <key>" first, then X-API-Key.
// Failures answer 401 with a Bearer challenge; the presented value is never
// logged.
func authMiddleware(keys string, next http.Handler) http.Handler {
	accepted := splitKeys(keys)
	if len(accepted) == 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		token := presentedKey(r)
		if token == "" {
			log.Warn("auth: no credentials", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Bearer realm="ragcore"`)
			http.Error(w, "authorization required", http.StatusUnauthorized)
			return
		}
		if !matchesAny(token, accepted) {
			log.Warn("auth: rejected credentials", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Bearer realm="ragcore" error="invalid_token"`)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// splitKeys parses a comma-separated key list, dropping blanks.
func splitKeys(keys string) [][]byte {
	var out [][]byte
	for _, k := range strings.Split(keys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, []byte(k))
		}
	}
	return out
}

// matchesAny compares token against every key so timing does not reveal
// which position matched.
func matchesAny(token string, keys [][]byte) bool {
	ok := 0
	for _, k := range keys {
		ok |= subtle.ConstantTimeCompare([]byte(token), k)
	}
	return ok == 1
}

// presentedKey returns the credential sent with r, or "".
func presentedKey(r *http.Request) string {
	if t := bearerToken(r); t != "" {
		return t
	}
	return strings.TrimSpace(r.Header.Get(apiKeyHeader))
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
// The scheme is case-insensitive. A missing or malformed header yields "".
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
