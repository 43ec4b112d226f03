package relay

import (
	"path"
	"strings"
)

const (
	// PlaylistSuffix is the fixed request suffix identifying a playlist.
	PlaylistSuffix = ".m3u8"
	// SegmentSuffix is the fixed request suffix identifying a media segment.
	SegmentSuffix = ".ts"
	// PlaylistFilename is the transcoder's output playlist inside a
	// session's artifact directory.
	PlaylistFilename = "index.m3u8"
)

// ResourceFromSegmentPath maps a segment request target back to its owning
// resource path: strip the trailing segment filename, re-append the playlist
// suffix. "/cam1/segment_000.ts" -> ("/cam1.m3u8", "segment_000.ts").
// This is a fixed string convention; resource paths are not guaranteed to be
// free of reserved characters, so it is not generalized.
func ResourceFromSegmentPath(requestPath string) (resourcePath, segment string) {
	dir, file := path.Split(requestPath)
	return strings.TrimSuffix(dir, "/") + PlaylistSuffix, file
}

// UpstreamURL derives the transcoder input address for a resource path:
// strip the playlist suffix, prepend the upstream scheme and host.
func UpstreamURL(upstreamHost, resourcePath string) string {
	return "rtmp://" + upstreamHost + strings.TrimSuffix(resourcePath, PlaylistSuffix)
}

// RewritePlaylist rewrites every segment reference in an HLS playlist from a
// relative filename to an absolute URL rooted at the requesting host and the
// resource's path prefix. Tag lines and blank lines pass through untouched.
//
// baseURL is e.g. "http://host:8080/cam1"; a reference "segment_003.ts"
// becomes "http://host:8080/cam1/segment_003.ts".
func RewritePlaylist(playlist []byte, baseURL string) string {
	base := strings.TrimSuffix(baseURL, "/")
	var b strings.Builder
	b.Grow(len(playlist) + 256)

	for _, line := range strings.Split(string(playlist), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			b.WriteString(line)
		} else {
			b.WriteString(base)
			b.WriteString("/")
			b.WriteString(trimmed)
		}
		b.WriteString("\n")
	}

	return strings.TrimSuffix(b.String(), "\n") + "\n"
}

// SegmentBase returns the absolute URL prefix segment references are
// rewritten against for a given request host and resource path.
func SegmentBase(scheme, host, resourcePath string) string {
	return scheme + "://" + host + strings.TrimSuffix(resourcePath, PlaylistSuffix)
}
