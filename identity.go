package main

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
)

const identityCookieName = "tabletop_id"

// getOrSetIdentity returns the caller's identity cookie, issuing a new one
// on first contact. It returns "" only if no random id could be made.
func getOrSetIdentity(cfg *Config, w http.ResponseWriter, r *http.Request) string {
	if id := identity(r); id != "" {
		return id
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		errorf("generate identity: %v", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     identityCookieName,
		Value:    id,
		Path:     cfg.prefix + "/",
		HttpOnly: true,
		Secure:   cfg.scheme() == "https",
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// identity reads the cookie without issuing one.
func identity(r *http.Request) string {
	if c, err := r.Cookie(identityCookieName); err == nil {
		return c.Value
	}
	return ""
}
