/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/Seednode/tabletop/chat"
	"github.com/Seednode/tabletop/games"
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

// errorf always logs, verbose or not.
func errorf(format string, args ...any) {
	log.Printf("%s | ERROR: "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func humanReadableSize(bytes int64) string {
	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(bytes)/float64(div),
		"kMGTPE"[exp])
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		errorf("encode response: %v", err)
		http.Error(w, "unable to encode response", http.StatusInternalServerError)
		return 0
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	written, _ := w.Write(data)
	return written
}

func chatStatus(err error) int {
	switch chat.KindOf(err) {
	case chat.KindInvalidInput:
		return http.StatusBadRequest
	case chat.KindNotFound:
		return http.StatusNotFound
	case chat.KindNotAuthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeChatError answers with the error's reason. Internal faults are
// logged with the player id and answered with fallback instead.
func writeChatError(w http.ResponseWriter, err error, playerID, fallback string) {
	status := chatStatus(err)

	switch status {
	case http.StatusInternalServerError:
		errorf("chat for player %s: %v", playerID, err)
		http.Error(w, fallback, status)
	case http.StatusNotFound:
		http.Error(w, "not found", status)
	case http.StatusForbidden:
		http.Error(w, "not authorized", status)
	default:
		http.Error(w, err.Error(), status)
	}
}

// recoverChat answers a panic in a chat handler as an internal fault. It
// must be deferred directly.
func recoverChat(w http.ResponseWriter, playerID, fallback string) {
	if r := recover(); r != nil {
		writeChatError(w, chat.Internal(fmt.Errorf("panic: %v", r)), playerID, fallback)
	}
}

// writeResolveError maps a game lookup failure.
func writeResolveError(w http.ResponseWriter, err error, id string) {
	switch {
	case errors.Is(err, games.ErrGameNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		errorf("resolve %s: %v", id, err)
		http.Error(w, "unable to load game", http.StatusInternalServerError)
	}
}
