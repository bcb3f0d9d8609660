// Package options translates the command-line request of a user in to the
// immutable DownloadOptions record handed to the extraction collaborator.
package options

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	// BestAudioFormat selects the best audio-only stream, falling
	// back to the best combined stream when none exists.
	BestAudioFormat = "bestaudio/best"

	ExtractAudioKind = "FFmpegExtractAudio"
	AudioCodec       = "mp3"
	AudioQuality     = "192"
)

var (
	ErrMissingArgument = errors.New("missing required argument: page_url")

	validate = validator.New()
)

type (
	// PostProcessor describes a transformation applied once a
	// download has completed.
	PostProcessor struct {
		Kind          string
		TargetCodec   string
		TargetQuality string
	}

	// DownloadOptions is constructed once per invocation and must not be
	// modified after it has been handed to an extractor.
	DownloadOptions struct {
		VerifyCertificate   bool
		Quiet               bool
		Verbose             bool
		RestrictFilenames   bool
		Format              string
		PostProcessors      []PostProcessor
		FileNameLengthLimit *int
		OutputDir           string
	}

	// Defaults are the configured values an invocation starts from
	// before any flags are applied.
	Defaults struct {
		VerifyCertificate   bool
		FileNameLengthLimit int
		OutputDir           string
	}

	// Flags contains the raw values supplied on the command line.
	Flags struct {
		AudioOnly bool
		MetaOnly  bool
		Verbose   bool
		OutputDir string
		PageURL   string
	}

	// Invocation is the outcome of building options from flags: the page
	// to act on, whether only metadata is wanted, and the options record.
	Invocation struct {
		PageURL      string `validate:"required,url"`
		MetadataOnly bool
		Options      DownloadOptions
	}
)

// Build validates the flags and constructs the invocation they describe.
// ErrMissingArgument is returned if no page URL was supplied.
func Build(flags Flags, defaults Defaults) (Invocation, error) {
	pageURL := strings.TrimSpace(flags.PageURL)
	if pageURL == "" {
		return Invocation{}, ErrMissingArgument
	}

	opts := newOptions(defaults)
	opts.Verbose = flags.Verbose && !flags.MetaOnly
	if flags.OutputDir != "" {
		opts.OutputDir = flags.OutputDir
	}

	switch {
	case flags.MetaOnly:
		opts.Quiet = true
		opts.Format = BestAudioFormat
	case flags.AudioOnly:
		opts.Format = BestAudioFormat
		opts.PostProcessors = []PostProcessor{audioExtraction()}
	}

	inv := Invocation{
		PageURL:      NormalizePageURL(pageURL),
		MetadataOnly: flags.MetaOnly,
		Options:      opts,
	}
	if err := validate.Struct(inv); err != nil {
		return Invocation{}, err
	}

	return inv, nil
}

// MetadataOptions returns the options record used when only metadata
// is requested, such as by the local HTTP server.
func MetadataOptions(defaults Defaults) DownloadOptions {
	opts := newOptions(defaults)
	opts.Quiet = true
	opts.Format = BestAudioFormat

	return opts
}

// NormalizePageURL rewrites page URLs which the extractor is known to
// handle better in an alternate form. Instagram reels are served from
// the same media ID under '/p/'.
func NormalizePageURL(pageURL string) string {
	if strings.Contains(pageURL, "instagram.com/reel") {
		return strings.ReplaceAll(pageURL, "reel/", "p/")
	}

	return pageURL
}

func newOptions(defaults Defaults) DownloadOptions {
	opts := DownloadOptions{
		VerifyCertificate: defaults.VerifyCertificate,
		RestrictFilenames: true,
		OutputDir:         defaults.OutputDir,
	}
	if defaults.FileNameLengthLimit > 0 {
		limit := defaults.FileNameLengthLimit
		opts.FileNameLengthLimit = &limit
	}

	return opts
}

func audioExtraction() PostProcessor {
	return PostProcessor{
		Kind:          ExtractAudioKind,
		TargetCodec:   AudioCodec,
		TargetQuality: AudioQuality,
	}
}
