package internal_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/hbomb79/Telluride/internal"
	"github.com/hbomb79/Telluride/internal/client"
	"github.com/hbomb79/Telluride/internal/extract"
	"github.com/hbomb79/Telluride/internal/options"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const pageURL = "https://www.youtube.com/watch?v=CDC5ludJazw"

type mockExtractor struct{ mock.Mock }

func (m *mockExtractor) ExtractMetadata(ctx context.Context, pageURL string, opts options.DownloadOptions) (json.RawMessage, error) {
	args := m.Called(pageURL, opts)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func (m *mockExtractor) Download(ctx context.Context, pageURL string, opts options.DownloadOptions) error {
	return m.Called(pageURL, opts).Error(0)
}

type harness struct {
	cli         *internal.CLI
	extractor   *mockExtractor
	stdout      *bytes.Buffer
	stderr      *bytes.Buffer
	constructed int
}

func newHarness() *harness {
	h := &harness{extractor: &mockExtractor{}, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	h.cli = &internal.CLI{
		Build:  "test-build",
		Stdout: h.stdout,
		Stderr: h.stderr,
		NewExtractor: func(context.Context, extract.Config) (extract.Extractor, error) {
			h.constructed++
			return h.extractor, nil
		},
	}

	return h
}

func (h *harness) execute(args ...string) int {
	return h.cli.Execute(context.Background(), args)
}

func freePort(t *testing.T) int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}

func Test_CLI_MissingURL(t *testing.T) {
	for _, args := range [][]string{{}, {"--audio-only"}, {"-m"}} {
		h := newHarness()

		assert.Equal(t, internal.ExitFailure, h.execute(args...))
		assert.Contains(t, h.stderr.String(), "a page URL is required")
		assert.Contains(t, h.stderr.String(), "Usage: telluride")
		assert.Zero(t, h.constructed, "extractor must not be constructed without a URL")
		h.extractor.AssertNotCalled(t, "ExtractMetadata", mock.Anything, mock.Anything)
		h.extractor.AssertNotCalled(t, "Download", mock.Anything, mock.Anything)
	}
}

func Test_CLI_MetaOnlyPrintsIndentedJSON(t *testing.T) {
	h := newHarness()
	h.extractor.On("ExtractMetadata", pageURL, mock.MatchedBy(func(opts options.DownloadOptions) bool {
		return opts.Quiet && opts.Format == options.BestAudioFormat
	})).Return(json.RawMessage(`{"title":"A video","tags":["a","b"]}`), nil).Once()

	assert.Equal(t, internal.ExitSuccess, h.execute("--meta-only", "--audio-only", pageURL))

	expected := "{\n  \"title\": \"A video\",\n  \"tags\": [\n    \"a\",\n    \"b\"\n  ]\n}\n"
	assert.Equal(t, expected, h.stdout.String())
	h.extractor.AssertExpectations(t)
	h.extractor.AssertNotCalled(t, "Download", mock.Anything, mock.Anything)
}

func Test_CLI_AudioOnlyDownload(t *testing.T) {
	h := newHarness()
	h.extractor.On("Download", pageURL, mock.MatchedBy(func(opts options.DownloadOptions) bool {
		return len(opts.PostProcessors) == 1 &&
			opts.PostProcessors[0].TargetCodec == "mp3" &&
			opts.PostProcessors[0].TargetQuality == "192" &&
			opts.Format == "bestaudio/best" &&
			opts.OutputDir == "/tmp/telluride"
	})).Return(nil).Once()

	assert.Equal(t, internal.ExitSuccess, h.execute("-a", "-o", "/tmp/telluride", pageURL))
	h.extractor.AssertExpectations(t)
	h.extractor.AssertNotCalled(t, "ExtractMetadata", mock.Anything, mock.Anything)
}

func Test_CLI_ExtractionFailure(t *testing.T) {
	h := newHarness()
	h.extractor.On("Download", pageURL, mock.Anything).
		Return(&extract.Error{Code: extract.UNSUPPORTED_URL, Message: "Unsupported URL: " + pageURL}).Once()

	assert.Equal(t, internal.ExitFailure, h.execute(pageURL))
	assert.Contains(t, h.stderr.String(), "(UNSUPPORTED_URL)")

	h = newHarness()
	h.extractor.On("ExtractMetadata", pageURL, mock.Anything).Return(json.RawMessage(`not json`), nil).Once()
	assert.Equal(t, internal.ExitFailure, h.execute("-m", pageURL))
	assert.Contains(t, h.stderr.String(), "(MALFORMED_OUTPUT)")
	assert.Empty(t, h.stdout.String())
}

func Test_CLI_InvalidURL(t *testing.T) {
	h := newHarness()

	assert.Equal(t, internal.ExitFailure, h.execute("-m", "not-a-url"))
	assert.Contains(t, h.stderr.String(), "is not a valid page URL")
	assert.Zero(t, h.constructed)
}

func Test_CLI_FlagsAndVersion(t *testing.T) {
	h := newHarness()
	assert.Equal(t, internal.ExitSuccess, h.execute("--version"))
	assert.Equal(t, "test-build\n", h.stdout.String())

	h = newHarness()
	assert.Equal(t, internal.ExitSuccess, h.execute("--help"))
	assert.Contains(t, h.stderr.String(), "--meta-only")

	h = newHarness()
	assert.Equal(t, internal.ExitFailure, h.execute("--no-such-flag", pageURL))
	assert.Zero(t, h.constructed)
}

func Test_CLI_ServerAndStop(t *testing.T) {
	port := strconv.Itoa(freePort(t))
	server := newHarness()

	done := make(chan int, 1)
	go func() { done <- server.execute("--server", "--port", port) }()

	c := client.New(net.JoinHostPort("127.0.0.1", port))
	require.NoError(t, c.WaitReady(context.Background(), 5*time.Second))

	server.extractor.On("ExtractMetadata", pageURL, mock.Anything).Return(json.RawMessage(`{"id":"CDC5ludJazw"}`), nil).Once()
	metadata, err := c.Query(context.Background(), pageURL)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"CDC5ludJazw"}`, string(metadata))

	stopper := newHarness()
	assert.Equal(t, internal.ExitSuccess, stopper.execute("--stop", "-p", port))
	assert.Contains(t, stopper.stdout.String(), "Shutting down (build test-build)")

	select {
	case code := <-done:
		assert.Equal(t, internal.ExitSuccess, code)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not exit after --stop")
	}
}

func Test_CLI_StopWithoutServer(t *testing.T) {
	h := newHarness()

	assert.Equal(t, internal.ExitFailure, h.execute("--stop", "--port", strconv.Itoa(freePort(t))))
	assert.Contains(t, h.stderr.String(), "failed to stop server")
}
