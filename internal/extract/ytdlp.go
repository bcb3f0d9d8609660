package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/Telluride/internal/options"
	"github.com/hbomb79/Telluride/pkg/logger"
	"github.com/lrstanley/go-ytdlp"
)

var (
	log      = logger.Get("Extract")
	validate = validator.New()

	errorLinePattern = regexp.MustCompile(`(?m)^ERROR:\s*(.+)$`)
)

const (
	DefaultOutputTemplate = "%(title)s.%(ext)s"
	progressInterval      = 500 * time.Millisecond
)

// Config controls how the yt-dlp executable is located and invoked.
type Config struct {
	BinaryPath      string        `yaml:"ytdlp_binary" env:"YTDLP_BINARY_PATH"`
	FfmpegLocation  string        `yaml:"ffmpeg_location" env:"FFMPEG_LOCATION"`
	AutoInstall     bool          `yaml:"auto_install" env:"YTDLP_AUTO_INSTALL" env-default:"false"`
	MetadataTimeout time.Duration `yaml:"metadata_timeout" env:"EXTRACT_METADATA_TIMEOUT" env-default:"60s" validate:"min=0"`
	DownloadTimeout time.Duration `yaml:"download_timeout" env:"EXTRACT_DOWNLOAD_TIMEOUT" env-default:"0s" validate:"min=0"`
}

// YtdlpExtractor satisfies Extractor by running the yt-dlp executable
// for every call. It holds no state between calls.
type YtdlpExtractor struct {
	config Config
}

func NewYtdlpExtractor(config Config) *YtdlpExtractor {
	return &YtdlpExtractor{config: config}
}

// New constructs the Extractor used by Telluride: yt-dlp (installed
// first, if configured to do so) bounded by the configured timeouts.
func New(ctx context.Context, config Config) (Extractor, error) {
	ex := NewYtdlpExtractor(config)
	if err := ex.Prepare(ctx); err != nil {
		return nil, err
	}

	return WithTimeout(ex, config.MetadataTimeout, config.DownloadTimeout), nil
}

// Prepare ensures a yt-dlp executable is available when AutoInstall is
// enabled and no explicit binary path has been configured.
func (ex *YtdlpExtractor) Prepare(ctx context.Context) error {
	if !ex.config.AutoInstall || ex.config.BinaryPath != "" {
		return nil
	}

	log.Emit(logger.NEW, "Resolving yt-dlp executable...\n")
	if _, err := ytdlp.Install(ctx, nil); err != nil {
		return fmt.Errorf("failed to install yt-dlp: %w", err)
	}

	return nil
}

// ExtractMetadata asks yt-dlp for the metadata of the page without
// downloading anything, returning the JSON document it produces.
func (ex *YtdlpExtractor) ExtractMetadata(ctx context.Context, pageURL string, opts options.DownloadOptions) (json.RawMessage, error) {
	if err := checkURL(pageURL); err != nil {
		return nil, err
	}

	cmd := ex.command(opts).DumpSingleJSON().SkipDownload()
	res, err := cmd.Run(ctx, pageURL)
	if err != nil {
		return nil, classifyFailure(ctx, res, err)
	}

	out := strings.TrimSpace(res.Stdout)
	if out == "" || !json.Valid([]byte(out)) {
		return nil, newError(MALFORMED_OUTPUT, "yt-dlp did not produce a valid JSON document", nil)
	}

	return json.RawMessage(out), nil
}

// Download asks yt-dlp to retrieve the media for the page, applying
// any post-processors requested by the options.
func (ex *YtdlpExtractor) Download(ctx context.Context, pageURL string, opts options.DownloadOptions) error {
	if err := checkURL(pageURL); err != nil {
		return err
	}

	cmd := ex.command(opts).PrintJSON()
	if opts.Verbose {
		cmd.ProgressFunc(progressInterval, func(update ytdlp.ProgressUpdate) {
			reportProgress(pageURL, update)
		})
	}

	res, err := cmd.Run(ctx, pageURL)
	if err != nil {
		return classifyFailure(ctx, res, err)
	}

	if infos, err := res.GetExtractedInfo(); err == nil {
		for _, info := range infos {
			if info.Filename != nil {
				log.Emit(logger.SUCCESS, "Downloaded %s\n", *info.Filename)
			}
		}
	}

	return nil
}

// command builds the yt-dlp invocation described by the options. The
// mapping is one-to-one with the fields of DownloadOptions.
func (ex *YtdlpExtractor) command(opts options.DownloadOptions) *ytdlp.Command {
	cmd := ytdlp.New()
	if ex.config.BinaryPath != "" {
		cmd = cmd.SetExecutable(ex.config.BinaryPath)
	}
	if ex.config.FfmpegLocation != "" {
		cmd = cmd.FFmpegLocation(ex.config.FfmpegLocation)
	}

	if !opts.VerifyCertificate {
		cmd = cmd.NoCheckCertificates()
	}
	if opts.Quiet {
		cmd = cmd.Quiet().NoWarnings()
	}
	if opts.RestrictFilenames {
		cmd = cmd.RestrictFilenames()
	}
	if opts.Format != "" {
		cmd = cmd.Format(opts.Format)
	}
	if opts.FileNameLengthLimit != nil {
		cmd = cmd.TrimFilenames(*opts.FileNameLengthLimit)
	}
	if opts.OutputDir != "" {
		cmd = cmd.Output(filepath.Join(opts.OutputDir, DefaultOutputTemplate))
	}

	for _, pp := range opts.PostProcessors {
		switch pp.Kind {
		case options.ExtractAudioKind:
			cmd = cmd.ExtractAudio().AudioFormat(pp.TargetCodec).AudioQuality(pp.TargetQuality)
		default:
			log.Emit(logger.WARNING, "Ignoring unknown post-processor %q\n", pp.Kind)
		}
	}

	return cmd
}

func checkURL(pageURL string) error {
	if err := validate.Var(pageURL, "required,url"); err != nil {
		return newError(INVALID_URL, fmt.Sprintf("%q is not a valid page URL", pageURL), nil)
	}

	return nil
}

// classifyFailure converts the outcome of a failed yt-dlp run in to an
// *Error, using the last 'ERROR:' line yt-dlp printed as the message.
func classifyFailure(ctx context.Context, res *ytdlp.Result, cause error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newError(TIMEOUT, "yt-dlp did not finish before the deadline", ErrTimeout)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}

	stderr := ""
	if res != nil {
		stderr = res.Stderr
	}

	return classifyStderr(stderr, cause)
}

func classifyStderr(stderr string, cause error) *Error {
	message := "yt-dlp exited with an error"
	if matches := errorLinePattern.FindAllStringSubmatch(stderr, -1); len(matches) > 0 {
		message = strings.TrimSpace(matches[len(matches)-1][1])
	}

	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "unsupported url"):
		return newError(UNSUPPORTED_URL, message, cause)
	case strings.Contains(lower, "is not a valid url"):
		return newError(INVALID_URL, message, cause)
	default:
		return newError(EXTRACTION_FAILURE, message, cause)
	}
}

func reportProgress(pageURL string, update ytdlp.ProgressUpdate) {
	if update.TotalBytes <= 0 {
		return
	}

	percent := float64(update.DownloadedBytes) / float64(update.TotalBytes) * 100
	elapsed := time.Duration(0)
	if !update.Started.IsZero() {
		elapsed = time.Since(update.Started).Round(time.Second)
	}

	log.Emit(logger.INFO, "%s: %.1f%% of %d bytes (%s elapsed)\n", pageURL, percent, update.TotalBytes, elapsed)
}
