package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-lesson-engine/internal/dto"
	"github.com/noah-isme/sma-lesson-engine/internal/models"
)

type auditRunner interface {
	Run(ctx context.Context, req dto.AuditRequest) (*models.AttendanceAuditReport, error)
}

// AuditScheduler runs dry-run audits on a cron schedule. Scheduled runs never
// delete; deletion stays an explicit operator action.
type AuditScheduler struct {
	cron    *cron.Cron
	runner  auditRunner
	timeout time.Duration
	logger  *zap.Logger
}

// NewAuditScheduler parses spec (standard five-field cron, evaluated in loc).
func NewAuditScheduler(runner auditRunner, spec string, loc *time.Location, logger *zap.Logger) (*AuditScheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	s := &AuditScheduler{runner: runner, timeout: 30 * time.Minute, logger: logger}
	s.cron = cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return nil, fmt.Errorf("parse audit schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins scheduling in the background.
func (s *AuditScheduler) Start() {
	s.cron.Start()
	s.logger.Info("attendance audit scheduled", zap.Time("next_run", s.cron.Entries()[0].Next))
}

// Stop halts scheduling and waits for a running audit to finish.
func (s *AuditScheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *AuditScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	report, err := s.runner.Run(ctx, dto.AuditRequest{})
	if err != nil {
		s.logger.Error("scheduled attendance audit failed", zap.Error(err))
		return
	}
	fields := []zap.Field{zap.Int("scanned", report.Scanned), zap.Int("invalid", report.Invalid)}
	for reason, n := range report.ByReason {
		if reason != models.AttendanceReasonValid {
			fields = append(fields, zap.Int(string(reason), n))
		}
	}
	s.logger.Info("scheduled attendance audit", fields...)
}
