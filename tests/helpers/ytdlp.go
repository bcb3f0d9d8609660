package helpers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeYtdlpScript stands in for yt-dlp. It answers based on the page URL,
// which is always the final argument: URLs containing 'unsupported'
// fail the way yt-dlp does for sites it has no extractor for, URLs
// containing 'garbage' print non-JSON, and anything else prints a
// small metadata document. The arguments of the latest run are recorded
// beside the script (see RecordedYtdlpArgs).
const fakeYtdlpScript = `#!/bin/sh
printf '%s\n' "$@" > "$(dirname "$0")/argv"
for arg in "$@"; do url="$arg"; done
case "$url" in
  *unsupported*)
    echo "ERROR: Unsupported URL: $url" >&2
    exit 1
    ;;
  *garbage*)
    echo "this is not json"
    ;;
  *)
    printf '{"id":"fake","title":"Fake video","webpage_url":"%s","formats":[{"format_id":"140","ext":"m4a"}]}\n' "$url"
    ;;
esac
`

// WriteFakeYtdlp writes an executable fake yt-dlp to a temporary
// directory and returns its path.
func WriteFakeYtdlp(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "yt-dlp")
	if err := os.WriteFile(path, []byte(fakeYtdlpScript), 0o755); err != nil {
		t.Fatalf("failed to write fake yt-dlp: %s", err)
	}

	return path
}

// RecordedYtdlpArgs returns the arguments the fake yt-dlp at the path
// provided was last invoked with.
func RecordedYtdlpArgs(t *testing.T, ytdlpPath string) []string {
	raw, err := os.ReadFile(filepath.Join(filepath.Dir(ytdlpPath), "argv"))
	if err != nil {
		t.Fatalf("fake yt-dlp has not been run: %s", err)
	}

	return strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
}
