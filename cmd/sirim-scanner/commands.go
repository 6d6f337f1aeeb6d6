package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/sirim-scanner/internal/export"
	"github.com/zombor/sirim-scanner/internal/label"
	"github.com/zombor/sirim-scanner/internal/scan"
	"github.com/zombor/sirim-scanner/internal/scanning"
	"github.com/zombor/sirim-scanner/internal/server"
)

// rootCommand holds the settings shared by every subcommand
type rootCommand struct {
	flags   *ff.FlagSet
	command *ff.Command

	dbPath      *string
	dbDriver    *string
	storagePath *string
	imageStore  *string
	s3Bucket    *string
	s3Region    *string
	s3Endpoint  *string
	s3Prefix    *string
	s3AccessKey *string
	s3SecretKey *string
	recognizer  *string
	geminiKey   *string
	geminiModel *string
	ollamaURL   *string
	ollamaModel *string
	rulesPath   *string
	debug       *bool
}

func newRootCommand() *rootCommand {
	fs := ff.NewFlagSet("sirim-scanner")
	root := &rootCommand{
		flags:       fs,
		dbPath:      fs.StringLong("db", "sirim.db", "Database file path"),
		dbDriver:    fs.StringLong("db-driver", "bolt", "Database driver: 'bolt' or 'sqlite'"),
		storagePath: fs.StringLong("storage", "./images", "Image storage directory path"),
		imageStore:  fs.StringLong("image-store", "local", "Image store: 'local' or 's3'"),
		s3Bucket:    fs.StringLong("s3-bucket", "", "S3 bucket for label images"),
		s3Region:    fs.StringLong("s3-region", "", "S3 region (default from the AWS environment)"),
		s3Endpoint:  fs.StringLong("s3-endpoint", "", "S3 compatible endpoint URL (optional, e.g. MinIO)"),
		s3Prefix:    fs.StringLong("s3-prefix", "sirim", "Key prefix for label images"),
		s3AccessKey: fs.StringLong("s3-access-key", "", "S3 access key (optional, default AWS credential chain)"),
		s3SecretKey: fs.StringLong("s3-secret-key", "", "S3 secret key"),
		recognizer:  fs.StringLong("recognizer", "gemini", "Text recognizer: 'gemini' or 'ollama'"),
		geminiKey:   fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel: fs.StringLong("gemini-model", scanning.DefaultGeminiModel, "Google Gemini model name"),
		ollamaURL:   fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel: fs.StringLong("ollama-model", scanning.DefaultOllamaModel, "Ollama vision model name"),
		rulesPath:   fs.StringLong("rules", "", "YAML file overriding the label field rules (optional)"),
		debug:       fs.BoolLong("debug", "Enable debug logging"),
	}
	fs.BoolLong("version", "Show version information")

	root.command = &ff.Command{
		Name:      "sirim-scanner",
		Usage:     "sirim-scanner [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "capture SIRIM certification labels",
		Flags:     fs,
		Subcommands: []*ff.Command{
			root.serveCommand(),
			root.scanCommand(),
			root.exportCommand(),
		},
	}
	return root
}

func (root *rootCommand) serveCommand() *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(root.flags)
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		maxSessions = fs.IntLong("max-sessions", server.DefaultMaxSessions, "Maximum open scan sessions")
		idleTimeout = fs.DurationLong("session-idle-timeout", server.DefaultIdleTimeout, "Close scan sessions untouched for this long")
	)

	return &ff.Command{
		Name:      "serve",
		Usage:     "sirim-scanner serve [FLAGS]",
		ShortHelp: "run the scanning HTTP API",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			root.setupLogging()

			app, err := root.open(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			// The API still accepts text recognized on the device when the engine is down
			engine := root.newEngine()
			if _, err := engine.Init(ctx); err != nil {
				slog.Warn("Serving without server-side text recognition", "error", err)
			}
			defer engine.Close()

			sessions := server.NewSessionsWithDeps(scan.Config{
				Rules:   app.rules,
				Text:    engine,
				Barcode: scanning.NewQRDecoder(),
				Store:   app.records,
			}, *maxSessions, *idleTimeout, utcClock{})

			srv := server.NewServer(app.records, sessions, server.BasicAuth{
				Username: *authUser,
				Password: *authPass,
			})

			if *authUser != "" || *authPass != "" {
				slog.Info("Basic auth enabled", "user", *authUser)
			}

			addr := fmt.Sprintf(":%d", *port)
			slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
			if err := srv.Start(ctx, addr); err != nil {
				return fmt.Errorf("serving: %w", err)
			}
			slog.Info("Shutting down...")
			return nil
		},
	}
}

func (root *rootCommand) scanCommand() *ff.Command {
	fs := ff.NewFlagSet("scan").SetParent(root.flags)
	dryRun := fs.BoolLong("dry-run", "Extract and validate without saving a record")

	return &ff.Command{
		Name:      "scan",
		Usage:     "sirim-scanner scan [FLAGS] <image> ...",
		ShortHelp: "scan image files as frames of one label",
		LongHelp:  "Each file is submitted in order as a frame of a single scan session. The session status after every frame is printed as JSON.",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one image is required")
			}
			root.setupLogging()

			app, err := root.open(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			engine := root.newEngine()
			if _, err := engine.Init(ctx); err != nil {
				return fmt.Errorf("starting text recognition: %w", err)
			}
			defer engine.Close()

			cfg := scan.Config{
				Rules:   app.rules,
				Text:    engine,
				Barcode: scanning.NewQRDecoder(),
			}
			if !*dryRun {
				cfg.Store = app.records
			}
			session := scan.NewSession("cli", cfg)
			defer session.Close()

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("reading %s: %w", path, err)
				}

				status, err := session.Submit(ctx, scan.Frame{Image: data, ContentType: contentTypeOf(path, data)})
				if err != nil {
					return fmt.Errorf("scanning %s: %w", path, err)
				}
				if err := enc.Encode(status); err != nil {
					return fmt.Errorf("writing status: %w", err)
				}
				if status.Phase.Finished() {
					break
				}
			}
			return nil
		},
	}
}

func (root *rootCommand) exportCommand() *ff.Command {
	fs := ff.NewFlagSet("export").SetParent(root.flags)
	var (
		format = fs.StringLong("format", string(export.CSV), "Export format: 'csv', 'xlsx' or 'pdf'")
		out    = fs.StringLong("out", "", "Output file (default sirim_records.<format>, '-' for stdout)")
	)

	return &ff.Command{
		Name:      "export",
		Usage:     "sirim-scanner export [FLAGS]",
		ShortHelp: "export all records as CSV, Excel or PDF",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			root.setupLogging()

			f, err := export.ParseFormat(*format)
			if err != nil {
				return err
			}

			app, err := root.open(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			records, err := app.records.ListRecords()
			if err != nil {
				return err
			}

			path := *out
			if path == "" {
				path = f.FileName()
			}
			if path == "-" {
				return export.Write(os.Stdout, f, records)
			}

			file, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("creating %s: %w", path, err)
			}
			if err := export.Write(file, f, records); err != nil {
				file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return fmt.Errorf("closing %s: %w", path, err)
			}
			slog.Info("Records exported", "format", f, "count", len(records), "path", path)
			return nil
		},
	}
}

func (root *rootCommand) setupLogging() {
	if *root.debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
}

// contentTypeOf sniffs an image file, using the extension for HEIC which
// the sniffer does not know
func contentTypeOf(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return http.DetectContentType(data)
}

// loadRules loads the field rules, falling back to the built-in table
func loadRules(path string) (*label.RuleSet, error) {
	if path == "" {
		return label.DefaultRules(), nil
	}
	rules, err := label.LoadRules(path)
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}
	slog.Info("Loaded label rules", "path", path, "fields", len(rules.Keys()))
	return rules, nil
}
