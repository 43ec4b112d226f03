package relay

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mp2t"
)

// Handler exposes the relay's HTTP endpoints using go-chi.
type Handler struct {
	svc *Service
	log *slog.Logger

	// Environment and UpstreamHost are echoed by /health.
	environment  string
	upstreamHost string
}

// NewHandler returns a Handler serving the given Service.
func NewHandler(svc *Service, log *slog.Logger, environment, upstreamHost string) *Handler {
	return &Handler{svc: svc, log: log, environment: environment, upstreamHost: upstreamHost}
}

// Stream is the catch-all GET handler: ".m3u8" targets are playlist
// requests, ".ts" targets are segment requests, anything else is unknown.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, PlaylistSuffix):
		h.playlist(w, r)
	case strings.HasSuffix(r.URL.Path, SegmentSuffix):
		h.segment(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// playlist serves GET /<name>.m3u8. The resource path is the URL path
// verbatim; segment references are rewritten to absolute URLs rooted at
// the requesting host.
func (h *Handler) playlist(w http.ResponseWriter, r *http.Request) {
	resourcePath := r.URL.Path
	base := SegmentBase(requestScheme(r), r.Host, resourcePath)

	content, err := h.svc.Playlist(r.Context(), resourcePath, base)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotReady):
			h.log.Info("playlist not ready", slog.String("resource_path", resourcePath))
			w.WriteHeader(http.StatusNotFound)
		default:
			h.log.Error("playlist request failed",
				slog.String("resource_path", resourcePath),
				slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, content)
}

// segment serves GET /<name>/segment_<n>.ts. The owning resource path is
// derived by the fixed convention: strip the trailing filename, re-append
// the playlist suffix. Lookup is non-creating.
func (h *Handler) segment(w http.ResponseWriter, r *http.Request) {
	resourcePath, filename := ResourceFromSegmentPath(r.URL.Path)

	p, err := h.svc.SegmentPath(resourcePath, filename)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	f, err := os.Open(p)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", segmentContentType)
	w.Header().Set("Cache-Control", "max-age=10")
	w.WriteHeader(http.StatusOK)
	// A dropped connection just stops the transfer; the session is
	// unaffected.
	_, _ = io.Copy(w, f)
}

// Health serves GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"activeSessions": h.svc.ActiveCount(),
		"environment":    h.environment,
		"upstreamHost":   h.upstreamHost,
	})
}

// Status serves GET /status: a snapshot of every known session.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Sessions())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestScheme infers the scheme clients should use in rewritten URLs.
func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}
