package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"pumppulse/metrics"
	"pumppulse/middleware"
	"pumppulse/models"
)

// seenLimit bounds the identity watermark so a long-running poller does
// not accumulate every listing it ever saw.
const seenLimit = 1024

// Poller is the degraded fallback: it periodically fetches the vendor's
// listing endpoint and emits listings it has not seen before, oldest
// first so downstream ordering matches arrival order.
type Poller struct {
	url      string
	interval time.Duration
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	log      *zap.SugaredLogger

	seen      map[string]struct{}
	seenOrder []string
}

func NewPoller(url string, interval time.Duration, log *zap.SugaredLogger) *Poller {
	return &Poller{
		url:      url,
		interval: interval,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: middleware.NewBreaker("listing-poller", log),
		log:     log,
		seen:    make(map[string]struct{}),
	}
}

func (p *Poller) ID() models.SourceID { return models.SourcePoller }

func (p *Poller) Run(ctx context.Context, ready func(), out chan<- models.RawMessage) error {
	// First fetch doubles as the connection probe: the supervisor only
	// counts this source as connected once the endpoint answered.
	items, err := p.fetch(ctx)
	if err != nil {
		return err
	}
	ready()

	if err := p.emitNew(ctx, items, out); err != nil {
		return err
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			items, err := p.fetch(ctx)
			if err != nil {
				metrics.IncrementPollErrors()
				return err
			}
			metrics.IncrementPollCycles()
			if err := p.emitNew(ctx, items, out); err != nil {
				return err
			}
		}
	}
}

func (p *Poller) fetch(ctx context.Context) ([]json.RawMessage, error) {
	var items []json.RawMessage

	err := middleware.WithBreaker(p.breaker, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return Fatal(fmt.Errorf("listing endpoint: status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("listing endpoint: status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &items); err != nil {
			return fmt.Errorf("parse listing response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// emitNew forwards listings not seen before, in reverse response order
// because the endpoint returns newest first.
func (p *Poller) emitNew(ctx context.Context, items []json.RawMessage, out chan<- models.RawMessage) error {
	for i := len(items) - 1; i >= 0; i-- {
		key := listingKey(items[i])
		if key == "" {
			continue
		}
		if _, ok := p.seen[key]; ok {
			continue
		}
		p.remember(key)

		msg := models.RawMessage{
			Source:     p.ID(),
			Data:       items[i],
			ReceivedAt: time.Now(),
		}
		if err := emit(ctx, out, msg); err != nil {
			return err
		}
	}
	return nil
}

func (p *Poller) remember(key string) {
	p.seen[key] = struct{}{}
	p.seenOrder = append(p.seenOrder, key)
	if len(p.seenOrder) > seenLimit {
		evict := p.seenOrder[0]
		p.seenOrder = p.seenOrder[1:]
		delete(p.seen, evict)
	}
}

func listingKey(item json.RawMessage) string {
	var probe struct {
		Mint             string `json:"mint"`
		CreatedTimestamp int64  `json:"created_timestamp"`
	}
	if err := json.Unmarshal(item, &probe); err != nil || probe.Mint == "" {
		return ""
	}
	return fmt.Sprintf("%s-%d", probe.Mint, probe.CreatedTimestamp)
}
