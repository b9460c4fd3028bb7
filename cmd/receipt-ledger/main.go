package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zombor/receipt-ledger/internal/ledger"
	"github.com/zombor/receipt-ledger/internal/receipt"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine; flags and the environment still apply
	_ = godotenv.Load()

	root := ff.NewFlagSet("receipt-ledger")
	cfg := registerGlobalFlags(root)

	serveFlags := ff.NewFlagSet("serve").SetParent(root)
	var (
		addr              = serveFlags.StringLong("addr", ":8080", "HTTP listen address")
		dbPath            = serveFlags.StringLong("db", "receipt-ledger.db", "Database file path")
		exportDir         = serveFlags.StringLong("export-dir", "./exports", "Directory for saved CSV exports")
		authUser          = serveFlags.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass          = serveFlags.StringLong("auth-pass", "", "Basic auth password (optional)")
		extractionTimeout = serveFlags.DurationLong("extraction-timeout", ledger.DefaultExtractionTimeout, "Deadline for one extraction, OCR included")
	)
	serveCmd := &ff.Command{
		Name:      "serve",
		Usage:     "receipt-ledger serve [FLAGS]",
		ShortHelp: "run the HTTP API",
		Flags:     serveFlags,
		Exec: func(ctx context.Context, _ []string) error {
			return runServe(ctx, cfg, serveOptions{
				addr:              *addr,
				dbPath:            *dbPath,
				exportDir:         *exportDir,
				auth:              ledger.BasicAuth{Username: *authUser, Password: *authPass},
				extractionTimeout: *extractionTimeout,
			})
		},
	}

	extractFlags := ff.NewFlagSet("extract").SetParent(root)
	outDir := extractFlags.StringLong("out", "", "Write the CSV to a timestamped file in this directory instead of stdout")
	extractCmd := &ff.Command{
		Name:      "extract",
		Usage:     "receipt-ledger extract [FLAGS] [FILE]",
		ShortHelp: "extract one receipt from FILE (or stdin) and print it as CSV",
		Flags:     extractFlags,
		Exec: func(ctx context.Context, args []string) error {
			return runExtract(ctx, cfg, args, *outDir)
		},
	}

	rootCmd := &ff.Command{
		Name:        "receipt-ledger",
		Usage:       "receipt-ledger [FLAGS] <SUBCOMMAND> ...",
		ShortHelp:   "turn receipt text into validated, exportable records",
		Flags:       root,
		Subcommands: []*ff.Command{serveCmd, extractCmd},
		Exec: func(context.Context, []string) error {
			return ff.ErrHelp
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ParseAndRun(ctx, os.Args[1:], ff.WithEnvVarPrefix("RECEIPT_LEDGER"))
	if errors.Is(err, ff.ErrHelp) {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(rootCmd.GetSelected()))
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type serveOptions struct {
	addr              string
	dbPath            string
	exportDir         string
	auth              ledger.BasicAuth
	extractionTimeout time.Duration
}

func runServe(ctx context.Context, cfg *config, opts serveOptions) error {
	logger, err := cfg.setupLogging()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	slog.Info("Initializing database...", "path", opts.dbPath)
	db, err := ledger.NewBoltDB(opts.dbPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	extractor, err := cfg.newExtractor(ctx, registry)
	if err != nil {
		return err
	}
	defer extractor.Close()

	recognizer, err := cfg.newRecognizer(ctx)
	if err != nil {
		return err
	}
	if recognizer != nil {
		defer recognizer.Close()
	}

	slog.Info("Initializing export storage...", "dir", opts.exportDir)
	storage, err := ledger.NewLocalStorage(opts.exportDir)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	service := ledger.NewService(db, extractor, recognizer, storage)
	service.SetExtractionTimeout(opts.extractionTimeout)
	service.SetTolerances(cfg.tolerances())

	server := ledger.NewServer(service, opts.auth)
	server.EnableMetrics(registry)

	if opts.auth.Username != "" || opts.auth.Password != "" {
		slog.Info("Basic auth enabled", "user", opts.auth.Username)
	}

	return server.Start(ctx, opts.addr)
}

func runExtract(ctx context.Context, cfg *config, args []string, outDir string) error {
	logger, err := cfg.setupLogging()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	data, err := readInput(args)
	if err != nil {
		return err
	}

	extractor, err := cfg.newExtractor(ctx, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer extractor.Close()

	text := string(data)
	if contentType := http.DetectContentType(data); !strings.HasPrefix(contentType, "text/") {
		recognizer, err := cfg.newRecognizer(ctx)
		if err != nil {
			return err
		}
		if recognizer == nil {
			return fmt.Errorf("input looks like %s; set --ocr to transcribe images", contentType)
		}
		defer recognizer.Close()

		text, err = recognizer.Recognize(ctx, data, contentType)
		if err != nil {
			return fmt.Errorf("transcribing image: %w", err)
		}
	}

	r, err := extractor.Extract(ctx, text)
	if err != nil {
		return err
	}

	validation := cfg.tolerances().Validate(r)
	for _, w := range validation.Warnings {
		slog.Warn("Receipt validation warning", "warning", w)
	}

	if outDir == "" {
		return receipt.WriteCSV(os.Stdout, r)
	}

	storage, err := ledger.NewLocalStorage(outDir)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	name := receipt.Filename(time.Now())
	if err := storage.Write(name, func(w io.Writer) error {
		return receipt.WriteCSV(w, r)
	}); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}
	fmt.Println(name)
	return nil
}

func readInput(args []string) ([]byte, error) {
	switch len(args) {
	case 0:
		return io.ReadAll(os.Stdin)
	case 1:
		if args[0] == "-" {
			return io.ReadAll(os.Stdin)
		}
		return os.ReadFile(args[0])
	default:
		return nil, fmt.Errorf("expected at most one input file, got %d", len(args))
	}
}
