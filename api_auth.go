package authcore

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// writeJSON sends v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteSession sends a successful login response. Tokens must never be cached.
func WriteSession(w http.ResponseWriter, session *Session) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, session)
}

// WriteAuthError sends err as {"error","code","field"} with the status its
// kind maps to. Internal causes are never sent to the client.
func WriteAuthError(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	body := map[string]any{"error": PublicMessage(err)}
	var ae *AuthError
	if errors.As(err, &ae) && kind != KindInternal {
		if ae.Code != "" {
			body["code"] = ae.Code
		} else {
			body["code"] = string(ae.Kind)
		}
		if ae.Field != "" {
			body["field"] = ae.Field
		}
	} else {
		body["code"] = string(KindInternal)
	}
	if kind == KindUnauthenticated || kind == KindInvalidCredentials {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	}
	writeJSON(w, HTTPStatus(kind), body)
}

// readFields reads string fields from a form or JSON body.
func readFields(r *http.Request, names ...string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("error parsing form")
		}
		for _, n := range names {
			out[n] = r.FormValue(n)
		}
		return out, nil
	}

	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
		return nil, fmt.Errorf("invalid post body")
	}
	for _, n := range names {
		if s, ok := data[n].(string); ok {
			out[n] = s
		}
	}
	return out, nil
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if colonIdx := strings.LastIndex(ip, ":"); colonIdx != -1 {
		ip = ip[:colonIdx]
	}
	return ip
}
