package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/app"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/config"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/logger"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/services"
)

type cliOptions struct {
	configPath  string
	file        string
	tenant      string
	user        string
	storageKind string
	dsn         string
	preview     bool
	reportPath  string
	mapping     string
	options     models.ImportOptions
}

func parseFlags(args []string) (cliOptions, error) {
	var o cliOptions
	fs := flag.NewFlagSet("importer", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "path to config.toml")
	fs.StringVar(&o.file, "file", "", "CSV, TSV, XLSX or HTML file to import")
	fs.StringVar(&o.tenant, "tenant", "", "tenant ID")
	fs.StringVar(&o.user, "user", "cli", "user ID recorded as creator")
	fs.StringVar(&o.storageKind, "storage", "", "record store kind (memory, sqlite, postgres, mssql, dynamodb)")
	fs.StringVar(&o.dsn, "dsn", "", "record store DSN")
	fs.BoolVar(&o.preview, "preview", false, "print the detected headers and mapping without importing")
	fs.StringVar(&o.reportPath, "report", "", "write the CSV error report to this path")
	fs.StringVar(&o.mapping, "mapping", "", `column mapping as "Column=field,Other=field" or a JSON object`)
	fs.StringVar(&o.options.Format, "format", "", "source format; detected from the file name when empty")
	fs.StringVar(&o.options.Delimiter, "delimiter", "", "CSV delimiter (comma, semicolon, tab, pipe, or one character)")
	fs.StringVar(&o.options.Sheet, "sheet", "", "XLSX sheet name")
	fs.IntVar(&o.options.HeaderRow, "header-row", 0, "0-based index of the header row")
	fs.BoolVar(&o.options.UseAIMapping, "ai-mapping", false, "ask the AI oracle for mapping suggestions")
	fs.BoolVar(&o.options.UseAINormalization, "ai-normalize", false, "normalize rows through the AI oracle")
	fs.BoolVar(&o.options.Upsert, "upsert", false, "replace records that already exist")
	fs.BoolVar(&o.options.ContinueOnBatchError, "continue", false, "keep going when a batch is rejected")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	if o.file == "" || o.tenant == "" {
		return o, fmt.Errorf("-file and -tenant are required")
	}
	mapping, err := parseMapping(o.mapping)
	if err != nil {
		return o, err
	}
	o.options.Mapping = mapping
	return o, nil
}

// parseMapping accepts a JSON object or comma separated Column=field pairs
func parseMapping(s string) (models.ColumnMapping, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	mapping := models.ColumnMapping{}
	if strings.HasPrefix(s, "{") {
		if err := json.Unmarshal([]byte(s), &mapping); err != nil {
			return nil, fmt.Errorf("invalid -mapping JSON: %w", err)
		}
		return mapping, nil
	}
	for _, pair := range strings.Split(s, ",") {
		col, field, ok := strings.Cut(pair, "=")
		col, field = strings.TrimSpace(col), strings.TrimSpace(field)
		if !ok || col == "" {
			return nil, fmt.Errorf("invalid -mapping entry %q, expected Column=field", pair)
		}
		mapping[col] = field
	}
	return mapping, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.storageKind != "" {
		cfg.Storage.Kind = opts.storageKind
	}
	if opts.dsn != "" {
		cfg.Storage.DSN = opts.dsn
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger.Initialize(cfg.Env)
	defer logger.Sync()

	data, err := os.ReadFile(opts.file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", opts.file, err)
	}

	a, err := app.New(ctx, cfg, app.Options{}, logger.Log)
	if err != nil {
		return err
	}
	defer a.Close()

	req := services.ImportRequest{
		TenantID: opts.tenant,
		UserID:   opts.user,
		FileName: filepath.Base(opts.file),
		Data:     data,
		Options:  opts.options,
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	if opts.preview {
		preview, err := a.Import.Preview(ctx, req)
		if err != nil {
			return err
		}
		return enc.Encode(preview)
	}

	result, runErr := a.Import.Run(ctx, req)
	if err := enc.Encode(result); err != nil {
		return err
	}

	if opts.reportPath != "" && services.HasReportLines(result) {
		report, err := services.BuildReport(result)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.reportPath, report, 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		logger.Log.Info("Error report written", zap.String("path", opts.reportPath))
	}
	return runErr
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}
}
