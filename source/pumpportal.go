package source

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pumppulse/models"
	"pumppulse/ws"
)

const pingInterval = 30 * time.Second

// subscribeCommand is the one-shot subscription sent after the socket
// opens. The stream carries new-token creations from then on.
type subscribeCommand struct {
	Method string `json:"method"`
}

// PumpPortal streams token creations from the PumpPortal data feed.
type PumpPortal struct {
	url  string
	opts ws.Options
	log  *zap.SugaredLogger
}

func NewPumpPortal(url string, opts ws.Options, log *zap.SugaredLogger) *PumpPortal {
	return &PumpPortal{url: url, opts: opts, log: log}
}

func (p *PumpPortal) ID() models.SourceID { return models.SourcePumpPortal }

func (p *PumpPortal) Run(ctx context.Context, ready func(), out chan<- models.RawMessage) error {
	client := ws.NewClient(p.url, p.opts)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	if err := client.SendJSON(subscribeCommand{Method: "subscribeNewToken"}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	ready()
	p.log.Infow("Subscribed to new token stream", "source", p.ID(), "url", p.url)

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go p.pingLoop(pingCtx, client)

	for {
		data, err := client.Read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		msg := models.RawMessage{
			Source:     p.ID(),
			Data:       data,
			ReceivedAt: time.Now(),
		}
		if err := emit(ctx, out, msg); err != nil {
			return err
		}
	}
}

func (p *PumpPortal) pingLoop(ctx context.Context, client *ws.Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Ping(); err != nil {
				// Reader will surface the broken connection.
				return
			}
		}
	}
}
