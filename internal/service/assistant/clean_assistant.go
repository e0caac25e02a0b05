package assistant

import (
	"context"
	"time"

	"pdfchat/internal/logger"
)

const (
	DefaultTranscriptRetention     = 30 * 24 * time.Hour
	DefaultTranscriptCleanInterval = time.Hour
)

// StartTranscriptCleaner prunes old transcript rows until ctx is done.
func (s *Service) StartTranscriptCleaner(ctx context.Context, retention, interval time.Duration) {
	if !s.transcript.enabled() {
		return
	}
	if retention <= 0 {
		retention = DefaultTranscriptRetention
	}
	if interval <= 0 {
		interval = DefaultTranscriptCleanInterval
	}
	go s.cleanupLoop(ctx, retention, interval)
}

func (s *Service) cleanupLoop(ctx context.Context, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupTranscripts(ctx, retention)
		}
	}
}

func (s *Service) cleanupTranscripts(ctx context.Context, retention time.Duration) {
	n, err := s.transcript.PruneBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		logger.Errorf("cleanup transcripts error: %v", err)
		return
	}
	if n > 0 {
		logger.Infof("pruned %d transcript sessions", n)
	}
}
