package services

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/guildgate/backend/internal/config"
)

// BackupService exports audit logs to the backup bucket so the security
// trail survives database incidents
type BackupService struct {
	audit *AuditService
	cfg   *config.Config
	s3Svc *S3Service
}

func NewBackupService(audit *AuditService, cfg *config.Config, s3Svc *S3Service) *BackupService {
	return &BackupService{
		audit: audit,
		cfg:   cfg,
		s3Svc: s3Svc,
	}
}

// ExportAuditLogs uploads a gzipped JSON export of the last day of
// audit events
func (s *BackupService) ExportAuditLogs(ctx context.Context) (int, error) {
	if s.cfg.BackupBucket == "" {
		return 0, errors.New("backup bucket not configured")
	}

	since := time.Now().Add(-24 * time.Hour)
	logs, err := s.audit.ExportSince(since)
	if err != nil {
		return 0, fmt.Errorf("load audit logs: %w", err)
	}
	if len(logs) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(logs); err != nil {
		return 0, fmt.Errorf("encode export: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("finish export: %w", err)
	}

	key := ObjectTimestampKey("audit", time.Now())
	if err := s.s3Svc.Upload(ctx, s.cfg.BackupBucket, key, &buf, "application/gzip"); err != nil {
		return 0, err
	}

	return len(logs), nil
}

// ListExports returns the most recent export object keys
func (s *BackupService) ListExports(ctx context.Context, max int32) ([]string, error) {
	if s.cfg.BackupBucket == "" {
		return nil, errors.New("backup bucket not configured")
	}
	return s.s3Svc.ListKeys(ctx, s.cfg.BackupBucket, "audit/", max)
}

// RunDaily exports audit logs once per day until the context is
// cancelled. Started from main when backups are enabled.
func (s *BackupService) RunDaily(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.ExportAuditLogs(ctx)
			if err != nil {
				log.Printf("ERROR: audit export failed: %v", err)
			} else if count > 0 {
				log.Printf("INFO: exported %d audit events to S3", count)
			}
		}
	}
}
