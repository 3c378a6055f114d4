package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marrowlabs/ferryman/internal/logger"
	"github.com/marrowlabs/ferryman/internal/wire"
)

// fetchStats asks the subprocess for its current usage counters.
func (s *Session) fetchStats(ctx context.Context) (*wire.SessionStats, error) {
	resp, err := s.request(ctx, wire.GetSessionStats())
	if err != nil {
		return nil, err
	}
	var stats wire.SessionStats
	if err := json.Unmarshal(resp.Data, &stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return &stats, nil
}

// reportStats refreshes usage counters after a turn and republishes them
// through the status channel. Best-effort: failures are logged, never
// surfaced to the prompt caller.
func (s *Session) reportStats(ctx context.Context) {
	stats, err := s.fetchStats(ctx)
	if err != nil {
		logger.Info("session %s: fetch stats: %v", s.ID, err)
		return
	}

	s.mu.Lock()
	s.lastStats = stats
	s.mu.Unlock()

	detail := statsDetail(stats)
	if current := s.status.Current(); current.State == "running" {
		s.status.Set("running", detail)
	}
}

// Stats returns the last fetched subprocess counters plus transcript
// metadata, refreshing from the subprocess when possible.
func (s *Session) Stats(ctx context.Context) (*wire.SessionStats, *TranscriptMeta) {
	stats, err := s.fetchStats(ctx)
	if err != nil {
		s.mu.Lock()
		stats = s.lastStats
		s.mu.Unlock()
	} else {
		s.mu.Lock()
		s.lastStats = stats
		s.mu.Unlock()
	}

	var meta *TranscriptMeta
	if path := s.TranscriptPath(); path != "" {
		// Transcript metadata is best-effort; no metadata on parse failure.
		if m, err := readTranscriptMeta(path); err == nil {
			meta = m
		}
	}
	return stats, meta
}

func statsDetail(stats *wire.SessionStats) string {
	if stats == nil {
		return ""
	}
	detail := fmt.Sprintf("%d messages, $%.4f", stats.TotalMessages, stats.Cost)
	if stats.ContextWindow > 0 {
		pct := 100 * stats.ContextUsed / stats.ContextWindow
		detail = fmt.Sprintf("%s, ctx %d%%", detail, pct)
	}
	return detail
}

// usageSummary formats the one-line summary appended to the final outward
// text of a completed run.
func usageSummary(u *wire.Usage, contextWindow int) string {
	if u == nil {
		return ""
	}
	total := u.Total
	if total == 0 {
		total = u.Input + u.Output
	}
	if total == 0 && u.Cost == 0 {
		return ""
	}

	summary := fmt.Sprintf("[%d tokens, $%.4f", total, u.Cost)
	if contextWindow > 0 {
		summary = fmt.Sprintf("%s, ctx %d%%", summary, 100*total/contextWindow)
	}
	return summary + "]"
}
