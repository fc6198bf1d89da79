// Command repo-archive answers whether repositories are already present in a
// previously built archive.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
)

var version = "dev"

// CLI is the command line of repo-archive.
type CLI struct {
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info" enum:"debug,info,warn,error"`
	LogFormat string `help:"Log format (text, json)." default:"text" enum:"text,json"`

	Serve     ServeCmd     `cmd:"" help:"Serve archive lookups over HTTP."`
	Check     CheckCmd     `cmd:"" help:"Check URLs against a git archive and print the matches."`
	Normalize NormalizeCmd `cmd:"" help:"Print the variants a URL is looked up under."`
	Version   VersionCmd   `cmd:"" help:"Print the version."`
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("repo-archive"),
		kong.Description("Archive lookup service for mirrored git and model repositories."),
		kong.UsageOnError(),
		kong.DefaultEnvars("REPO_ARCHIVE"),
		kong.BindTo(io.Writer(os.Stdout), (*io.Writer)(nil)),
	)

	logger, err := newLogger(os.Stderr, cli.LogLevel, cli.LogFormat)
	ctx.FatalIfErrorf(err)
	slog.SetDefault(logger)

	ctx.FatalIfErrorf(ctx.Run(logger))
}

// newLogger builds the process logger. Text output uses tint.
func newLogger(w io.Writer, logLevel, logFormat string) (*slog.Logger, error) {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", logLevel)
	}

	var handler slog.Handler
	switch logFormat {
	case "text":
		handler = tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.DateTime})
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("invalid log format: %s", logFormat)
	}
	return slog.New(handler), nil
}

// VersionCmd prints the build version.
type VersionCmd struct{}

// Run implements the version command.
func (c *VersionCmd) Run(out io.Writer) error {
	_, err := fmt.Fprintln(out, version)
	return err
}
