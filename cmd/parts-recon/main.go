package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/parts-recon/internal/store"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("command failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	rootFlags := ff.NewFlagSet("parts-recon")
	var (
		logLevel  = rootFlags.StringLong("log-level", "info", "log level: debug, info, warn or error")
		logFormat = rootFlags.StringLong("log-format", "text", "log format: text or json")
		_         = rootFlags.BoolLong("version", "show version information")
	)

	root := &ff.Command{
		Name:      "parts-recon",
		Usage:     "parts-recon [FLAGS] <COMMAND> ...",
		ShortHelp: "reconcile supplier invoices against received parts",
		Flags:     rootFlags,
		Subcommands: []*ff.Command{
			ingestCommand(rootFlags),
			extractCommand(rootFlags),
			importReceiptsCommand(rootFlags),
			reportCommand(rootFlags),
			suppliersCommand(rootFlags),
			partsCommand(rootFlags),
			codingCommand(rootFlags),
			serveCommand(rootFlags),
		},
		Exec: func(context.Context, []string) error {
			return ff.ErrHelp
		},
	}

	err := root.Parse(args, ff.WithEnvVarPrefix("PARTS_RECON"))
	if err == nil {
		if err = setupLogging(*logLevel, *logFormat); err == nil {
			err = root.Run(ctx)
		}
	}
	if errors.Is(err, ff.ErrHelp) {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
		return nil
	}
	return err
}

func setupLogging(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	default:
		return fmt.Errorf("unknown log format %q (valid: text, json)", format)
	}
	return nil
}

// openStore opens dsn and logs where the data lives.
func openStore(ctx context.Context, dsn string) (store.Store, error) {
	st, err := store.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	slog.Debug("store opened", "dsn", redactDSN(dsn))
	return st, nil
}

// redactDSN drops the password from URL style DSNs.
func redactDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return dsn
	}
	user, _, _ := strings.Cut(rest[:at], ":")
	return scheme + "://" + user + ":xxxxx" + rest[at:]
}
