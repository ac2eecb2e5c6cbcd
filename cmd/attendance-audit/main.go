// Command attendance-audit sweeps stored lesson attendance and reports, or
// with --delete removes, records that do not match a real lesson occurrence.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-lesson-engine/internal/dto"
	"github.com/noah-isme/sma-lesson-engine/internal/models"
	"github.com/noah-isme/sma-lesson-engine/internal/occurrence"
	"github.com/noah-isme/sma-lesson-engine/internal/repository"
	"github.com/noah-isme/sma-lesson-engine/internal/service"
	"github.com/noah-isme/sma-lesson-engine/pkg/config"
	"github.com/noah-isme/sma-lesson-engine/pkg/database"
	"github.com/noah-isme/sma-lesson-engine/pkg/logger"
	"github.com/noah-isme/sma-lesson-engine/pkg/storage"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}
	logr, err := logger.New(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "failed to init logger: %v\n", err)
		return 1
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Error("failed to connect database", zap.Error(err))
		return 1
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	codec := occurrence.NewCodec(cfg.Occurrences.Location)
	audit := service.NewAttendanceAuditService(
		repository.NewLessonAttendanceRepository(db),
		repository.NewRecurrenceTemplateRepository(db),
		repository.NewLessonRepository(db, cfg.Occurrences.Timezone),
		codec, nil, cfg.Audit.PageSize, logr)

	report, err := audit.Run(ctx, dto.AuditRequest{Delete: opts.delete, ShowAll: opts.showAll})
	if err != nil {
		logr.Error("attendance audit failed", zap.Error(err))
		return 1
	}

	if opts.output == "" {
		if err := writeReport(stdout, report, opts.format); err != nil {
			logr.Error("failed to write report", zap.Error(err))
			return 1
		}
		return 0
	}

	store, err := storage.NewReportStore(cfg.Audit.ReportDir)
	if err != nil {
		logr.Error("failed to prepare report store", zap.Error(err))
		return 1
	}
	path, err := saveReport(store, opts.output, report, opts.format)
	if err != nil {
		logr.Error("failed to write report", zap.String("path", store.Path(opts.output)), zap.Error(err))
		return 1
	}
	logr.Info("audit report written", zap.String("path", path))

	pruned, err := store.Prune(cfg.Audit.ReportRetention, time.Now(), path)
	if err != nil {
		logr.Warn("failed to prune old reports", zap.Error(err))
	} else if len(pruned) > 0 {
		logr.Info("pruned old audit reports", zap.Strings("files", pruned))
	}
	return 0
}

func saveReport(store *storage.ReportStore, name string, report *models.AttendanceAuditReport, format string) (string, error) {
	w, path, err := store.Create(name)
	if err != nil {
		return "", err
	}
	if err := writeReport(w, report, format); err != nil {
		_ = w.Close()
		return path, err
	}
	return path, w.Close()
}

type options struct {
	delete  bool
	showAll bool
	format  string
	output  string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("attendance-audit", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&opts.delete, "delete", false, "delete invalid records (default is a dry run)")
	fs.BoolVar(&opts.showAll, "show-all", false, "list valid records as well")
	fs.StringVar(&opts.format, "format", "text", "report format: text, csv or pdf")
	fs.StringVarP(&opts.output, "output", "o", "", "write the report to a file under AUDIT_REPORT_DIR instead of stdout")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	switch opts.format {
	case "text", "csv", "pdf":
	default:
		err := fmt.Errorf("unsupported format %q", opts.format)
		fmt.Fprintln(stderr, err)
		return opts, err
	}
	if opts.format == "pdf" && opts.output == "" {
		err := fmt.Errorf("--format pdf requires --output")
		fmt.Fprintln(stderr, err)
		return opts, err
	}
	return opts, nil
}
