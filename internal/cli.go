package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hbomb79/Telluride/internal/client"
	"github.com/hbomb79/Telluride/internal/extract"
	"github.com/hbomb79/Telluride/internal/options"
	"github.com/hbomb79/Telluride/pkg/logger"
	"github.com/spf13/pflag"
)

const (
	ExitSuccess = 0
	ExitFailure = 1

	usageLine       = "Usage: telluride [flags] <page_url>\n       telluride --server [--port <port>]\n"
	missingURLHint  = "telluride: a page URL is required, e.g. 'telluride --meta-only https://www.youtube.com/watch?v=...'"
	jsonIndentation = "  "
)

// CLI is the command-line entry point. Output streams and the extractor
// constructor are fields so that invocations can be driven in-process.
type CLI struct {
	Build        string
	Stdout       io.Writer
	Stderr       io.Writer
	NewExtractor func(context.Context, extract.Config) (extract.Extractor, error)
}

type cliFlags struct {
	options.Flags
	Server     bool
	Stop       bool
	Version    bool
	Port       int
	ConfigPath string
}

func NewCLI(build string) *CLI {
	return &CLI{
		Build:        build,
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		NewExtractor: extract.New,
	}
}

// Execute runs a single invocation of Telluride using the arguments
// provided (excluding the program name), returning the exit code.
func (cli *CLI) Execute(ctx context.Context, args []string) int {
	logger.SetOutput(cli.Stderr)

	fs, flags := cli.flagSet()
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return ExitSuccess
		}

		fmt.Fprintf(cli.Stderr, "telluride: %v\n", err)
		fs.Usage()
		return ExitFailure
	}
	flags.PageURL = fs.Arg(0)

	if flags.Version {
		fmt.Fprintln(cli.Stdout, cli.Build)
		return ExitSuccess
	}

	config, err := loadConfig(flags.ConfigPath)
	if err != nil {
		fmt.Fprintf(cli.Stderr, "telluride: %v\n", err)
		return ExitFailure
	}

	level := config.Level()
	if flags.Verbose && level > logger.DEBUG {
		level = logger.DEBUG
	}
	logger.SetMinLoggingLevel(level.Level())

	if fs.Changed("port") {
		config.Server.Port = flags.Port
	}

	switch {
	case flags.Stop:
		return cli.stop(ctx, config.Server.Port)
	case flags.Server:
		return cli.serve(ctx, config)
	default:
		return cli.run(ctx, config, flags.Flags, fs)
	}
}

func (cli *CLI) flagSet() (*pflag.FlagSet, *cliFlags) {
	flags := &cliFlags{}
	fs := pflag.NewFlagSet("telluride", pflag.ContinueOnError)
	fs.SetOutput(cli.Stderr)
	fs.Usage = func() {
		fmt.Fprintf(cli.Stderr, "%s\nFlags:\n", usageLine)
		fs.PrintDefaults()
	}

	fs.BoolVarP(&flags.AudioOnly, "audio-only", "a", false, "download audio only, converted to mp3")
	fs.BoolVarP(&flags.MetaOnly, "meta-only", "m", false, "print the page metadata as JSON and exit, without downloading")
	fs.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging and download progress")
	fs.StringVarP(&flags.OutputDir, "output-dir", "o", "", "directory downloads are written to (default from config)")
	fs.BoolVarP(&flags.Server, "server", "s", false, "run the local metadata server")
	fs.IntVarP(&flags.Port, "port", "p", 47999, "port the local server listens on")
	fs.BoolVar(&flags.Stop, "stop", false, "ask a running local server to shut down")
	fs.StringVarP(&flags.ConfigPath, "config", "c", "", "path to a YAML configuration file")
	fs.BoolVar(&flags.Version, "version", false, "print the build identifier and exit")

	return fs, flags
}

func loadConfig(path string) (TellurideConfig, error) {
	var config TellurideConfig
	if path != "" {
		err := config.LoadFromFile(path)
		return config, err
	}

	err := config.LoadFromEnv()
	return config, err
}

// run handles a single page URL, either printing its metadata or
// downloading it. The options are built before the extractor is
// constructed, so a missing URL never reaches yt-dlp.
func (cli *CLI) run(ctx context.Context, config TellurideConfig, flags options.Flags, fs *pflag.FlagSet) int {
	invocation, err := options.Build(flags, config.Defaults())
	if errors.Is(err, options.ErrMissingArgument) {
		fmt.Fprintln(cli.Stderr, missingURLHint)
		fs.Usage()
		return ExitFailure
	} else if err != nil {
		fmt.Fprintf(cli.Stderr, "telluride: %q is not a valid page URL\n", flags.PageURL)
		return ExitFailure
	}

	extractor, err := cli.NewExtractor(ctx, config.Extractor)
	if err != nil {
		fmt.Fprintf(cli.Stderr, "telluride: %v\n", err)
		return ExitFailure
	}

	if invocation.MetadataOnly {
		return cli.printMetadata(ctx, extractor, invocation)
	}

	log.Emit(logger.NEW, "Downloading %s to %s\n", invocation.PageURL, invocation.Options.OutputDir)
	if err := extractor.Download(ctx, invocation.PageURL, invocation.Options); err != nil {
		cli.reportFailure(err)
		return ExitFailure
	}

	return ExitSuccess
}

func (cli *CLI) printMetadata(ctx context.Context, extractor extract.Extractor, invocation options.Invocation) int {
	metadata, err := extractor.ExtractMetadata(ctx, invocation.PageURL, invocation.Options)
	if err != nil {
		cli.reportFailure(err)
		return ExitFailure
	}

	out := &bytes.Buffer{}
	if err := json.Indent(out, metadata, "", jsonIndentation); err != nil {
		cli.reportFailure(&extract.Error{Code: extract.MALFORMED_OUTPUT, Message: "metadata is not valid JSON", Err: err})
		return ExitFailure
	}
	out.WriteByte('\n')

	if _, err := out.WriteTo(cli.Stdout); err != nil {
		return ExitFailure
	}

	return ExitSuccess
}

func (cli *CLI) serve(ctx context.Context, config TellurideConfig) int {
	extractor, err := cli.NewExtractor(ctx, config.Extractor)
	if err != nil {
		fmt.Fprintf(cli.Stderr, "telluride: %v\n", err)
		return ExitFailure
	}

	if err := NewServer(config, cli.Build, extractor).Run(ctx); err != nil {
		fmt.Fprintf(cli.Stderr, "telluride: server failed: %v\n", err)
		return ExitFailure
	}

	return ExitSuccess
}

func (cli *CLI) stop(ctx context.Context, port int) int {
	msg, err := client.NewForPort(port).Shutdown(ctx)
	if err != nil {
		fmt.Fprintf(cli.Stderr, "telluride: failed to stop server on port %d: %v\n", port, err)
		return ExitFailure
	}

	fmt.Fprintf(cli.Stdout, "%s (build %s)\n", msg.Message, msg.Build)
	return ExitSuccess
}

func (cli *CLI) reportFailure(err error) {
	var extractErr *extract.Error
	if errors.As(err, &extractErr) {
		fmt.Fprintf(cli.Stderr, "telluride: %s (%s)\n", extractErr.Message, extractErr.Code)
		return
	}

	fmt.Fprintf(cli.Stderr, "telluride: %v (%s)\n", err, extract.CodeOf(err))
}
