package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/internal/metrics"
)

type GamificationLedger interface {
	RecordDelta(ctx context.Context, delta domain.PointsDelta) error
}

type HTTPGamificationLedger struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGamificationLedger(baseURL string, timeout time.Duration) *HTTPGamificationLedger {
	return &HTTPGamificationLedger{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// RecordDelta posts one committed delta. Reference doubles as the
// idempotency key, so a resend after a lost response is harmless.
func (g *HTTPGamificationLedger) RecordDelta(ctx context.Context, delta domain.PointsDelta) error {
	body, err := json.Marshal(delta)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/deltas", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", delta.Reference)

	resp, err := g.client.Do(req)
	if err != nil {
		metrics.CollaboratorErrors.WithLabelValues("gamification").Inc()
		return fmt.Errorf("gamification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.CollaboratorErrors.WithLabelValues("gamification").Inc()
		return fmt.Errorf("gamification ledger returned status %d", resp.StatusCode)
	}
	return nil
}

type NoopGamificationLedger struct{}

func (NoopGamificationLedger) RecordDelta(context.Context, domain.PointsDelta) error {
	return nil
}
