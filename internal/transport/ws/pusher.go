package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/rs/zerolog/log"
)

// pushAttempts is the total number of sends per push, the first included.
const pushAttempts = 3

// DefaultBackoff is the pause before each retry of a failed push.
var DefaultBackoff = []time.Duration{time.Second, 3 * time.Second}

// Locator finds the management endpoint owning a connection.
type Locator interface {
	Lookup(ctx context.Context, connectionID string) (string, error)
}

// Pusher delivers server messages to a connection, locally when this
// process holds it and through the owning gateway otherwise.
type Pusher struct {
	hub     *Hub
	locator Locator
	client  *http.Client
	backoff []time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewPusher creates a pusher. hub and locator may each be nil.
func NewPusher(hub *Hub, locator Locator, backoff []time.Duration) *Pusher {
	if backoff == nil {
		backoff = DefaultBackoff
	}
	return &Pusher{
		hub:     hub,
		locator: locator,
		client:  &http.Client{Timeout: 10 * time.Second},
		backoff: backoff,
		sleep:   sleepCtx,
	}
}

// Push sends payload as JSON, at most three times. Retries pause for the
// matching backoff step, the last step repeating when the list is short. A
// connection that no longer exists fails at once with ErrGone.
func (p *Pusher) Push(ctx context.Context, connectionID string, payload any) error {
	if connectionID == "" {
		return ErrGone
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal push: %w", err)
	}

	lastErr := errors.New("no response")
	for attempt := 0; attempt < pushAttempts; attempt++ {
		if attempt > 0 && len(p.backoff) > 0 {
			if err := p.sleep(ctx, p.backoff[min(attempt, len(p.backoff))-1]); err != nil {
				return err
			}
		}
		lastErr = p.send(ctx, connectionID, data)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrGone) {
			return lastErr
		}
		log.Warn().Err(lastErr).
			Str("connection_id", connectionID).
			Int("attempt", attempt+1).
			Msg("Push failed")
	}
	return fmt.Errorf("push to %s failed after %d attempts: %w", connectionID, pushAttempts, lastErr)
}

func (p *Pusher) send(ctx context.Context, connectionID string, data []byte) error {
	if p.hub != nil && p.hub.Has(connectionID) {
		return p.hub.Send(connectionID, data)
	}
	if p.locator == nil {
		return ErrGone
	}

	endpoint, err := p.locator.Lookup(ctx, connectionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrGone
		}
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		endpoint+"/@connections/"+url.PathEscape(connectionID), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach gateway: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone:
		return ErrGone
	case resp.StatusCode >= 300:
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
