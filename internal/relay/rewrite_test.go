package relay

import (
	"strings"
	"testing"
)

func TestRewritePlaylist(t *testing.T) {
	playlist := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		"#EXT-X-TARGETDURATION:4",
		"#EXT-X-MEDIA-SEQUENCE:12",
		"",
		"#EXTINF:4.0,",
		"segment_012.ts",
		"#EXTINF:4.0,",
		"segment_013.ts",
	}, "\n") + "\n"

	got := RewritePlaylist([]byte(playlist), "http://example.com:8080/cam1")

	if !strings.Contains(got, "http://example.com:8080/cam1/segment_012.ts") {
		t.Errorf("segment_012 not rewritten:\n%s", got)
	}
	if !strings.Contains(got, "http://example.com:8080/cam1/segment_013.ts") {
		t.Errorf("segment_013 not rewritten:\n%s", got)
	}
	if !strings.Contains(got, "#EXT-X-MEDIA-SEQUENCE:12") {
		t.Errorf("tag line altered:\n%s", got)
	}
	if strings.Contains(got, "\nsegment_012.ts\n") {
		t.Errorf("relative reference survived:\n%s", got)
	}
}

func TestRewritePlaylist_base_trailing_slash(t *testing.T) {
	got := RewritePlaylist([]byte("#EXTM3U\nsegment_000.ts\n"), "http://h/cam1/")
	if !strings.Contains(got, "http://h/cam1/segment_000.ts") {
		t.Errorf("unexpected rewrite: %q", got)
	}
	if strings.Contains(got, "cam1//segment") {
		t.Errorf("double slash in rewrite: %q", got)
	}
}

func TestResourceFromSegmentPath(t *testing.T) {
	tests := []struct {
		requestPath  string
		wantResource string
		wantSegment  string
	}{
		{"/cam1/segment_000.ts", "/cam1.m3u8", "segment_000.ts"},
		{"/feeds/drone7/segment_042.ts", "/feeds/drone7.m3u8", "segment_042.ts"},
	}
	for _, tt := range tests {
		resource, segment := ResourceFromSegmentPath(tt.requestPath)
		if resource != tt.wantResource || segment != tt.wantSegment {
			t.Errorf("ResourceFromSegmentPath(%q) = (%q, %q), want (%q, %q)",
				tt.requestPath, resource, segment, tt.wantResource, tt.wantSegment)
		}
	}
}

func TestUpstreamURL(t *testing.T) {
	got := UpstreamURL("media.local:1935", "/cam1.m3u8")
	want := "rtmp://media.local:1935/cam1"
	if got != want {
		t.Errorf("UpstreamURL = %q, want %q", got, want)
	}
}

func TestSegmentBase(t *testing.T) {
	got := SegmentBase("http", "example.com:8080", "/cam1.m3u8")
	want := "http://example.com:8080/cam1"
	if got != want {
		t.Errorf("SegmentBase = %q, want %q", got, want)
	}
}

func TestTranscodeArgs_fixed_contract(t *testing.T) {
	args := transcodeArgs("rtmp://h/cam1", "/tmp/x/index.m3u8", "/tmp/x/segment_%03d.ts")

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-i rtmp://h/cam1",
		"-c:v libx264",
		"-c:a aac",
		"-f hls",
		"-hls_time 4",
		"-hls_list_size 10",
		"-hls_flags delete_segments",
		"-hls_segment_filename /tmp/x/segment_%03d.ts",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %v", want, args)
		}
	}
	if args[len(args)-1] != "/tmp/x/index.m3u8" {
		t.Errorf("output playlist must be the final argument, got %v", args)
	}
}
