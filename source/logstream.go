package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"pumppulse/models"
	"pumppulse/ws"
)

// rpcRequest is a JSON-RPC 2.0 request frame.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcEnvelope covers both responses and notifications, enough to tell
// them apart without interpreting payload semantics.
type rpcEnvelope struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// LogStream subscribes to program logs over an RPC provider WebSocket.
// The program allow-list and commitment are fixed at construction; each
// notification carries the transaction's signature, slot, and log lines.
type LogStream struct {
	endpoint       string
	programs       []string
	commitment     string
	confirmTimeout time.Duration
	opts           ws.Options
	log            *zap.SugaredLogger
}

func NewLogStream(rawURL, apiKey string, programs []string, commitment string,
	confirmTimeout time.Duration, opts ws.Options, log *zap.SugaredLogger) *LogStream {

	endpoint := rawURL
	if apiKey != "" {
		if u, err := url.Parse(rawURL); err == nil {
			q := u.Query()
			q.Set("api-key", apiKey)
			u.RawQuery = q.Encode()
			endpoint = u.String()
		}
	}

	return &LogStream{
		endpoint:       endpoint,
		programs:       programs,
		commitment:     commitment,
		confirmTimeout: confirmTimeout,
		opts:           opts,
		log:            log,
	}
}

func (l *LogStream) ID() models.SourceID { return models.SourceLogStream }

func (l *LogStream) Run(ctx context.Context, ready func(), out chan<- models.RawMessage) error {
	client := ws.NewClient(l.endpoint, l.opts)
	if err := client.Connect(ctx); err != nil {
		if errors.Is(err, ws.ErrUnauthorized) {
			return Fatal(err)
		}
		return err
	}
	defer client.Close()

	const reqID = 1
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "logsSubscribe",
		Params: []interface{}{
			map[string]interface{}{"mentions": l.programs},
			map[string]string{"commitment": l.commitment},
		},
	}
	if err := client.SendJSON(req); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	subID, err := l.awaitConfirmation(ctx, client, reqID, out)
	if err != nil {
		return err
	}

	ready()
	l.log.Infow("Log subscription confirmed",
		"source", l.ID(), "subscription", subID, "programs", l.programs, "commitment", l.commitment)

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go l.pingLoop(pingCtx, client)

	for {
		data, err := client.Read()
		if err != nil {
			if ctx.Err() != nil {
				l.unsubscribe(client, subID)
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		msg := models.RawMessage{
			Source:     l.ID(),
			Data:       data,
			ReceivedAt: time.Now(),
		}
		if err := emit(ctx, out, msg); err != nil {
			l.unsubscribe(client, subID)
			return err
		}
	}
}

// awaitConfirmation reads until the subscribe response for reqID shows
// up. Notifications that arrive in the meantime are forwarded as usual.
func (l *LogStream) awaitConfirmation(ctx context.Context, client *ws.Client,
	reqID uint64, out chan<- models.RawMessage) (int64, error) {

	deadline := time.Now().Add(l.confirmTimeout)

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		data, err := client.Read()
		if err != nil {
			return 0, fmt.Errorf("read during subscribe: %w", err)
		}

		var env rpcEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		if env.Method != "" {
			msg := models.RawMessage{Source: l.ID(), Data: data, ReceivedAt: time.Now()}
			if err := emit(ctx, out, msg); err != nil {
				return 0, err
			}
			continue
		}

		if env.ID != reqID {
			continue
		}
		if env.Error != nil {
			// A rejected filter will be rejected on every retry.
			return 0, Fatal(fmt.Errorf("subscribe rejected: code=%d %s", env.Error.Code, env.Error.Message))
		}

		var subID int64
		if err := json.Unmarshal(env.Result, &subID); err != nil {
			return 0, fmt.Errorf("parse subscription id: %w", err)
		}
		return subID, nil
	}

	return 0, fmt.Errorf("subscription not confirmed within %s", l.confirmTimeout)
}

func (l *LogStream) unsubscribe(client *ws.Client, subID int64) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "logsUnsubscribe",
		Params:  []interface{}{subID},
	}
	if err := client.SendJSON(req); err != nil {
		l.log.Debugw("Unsubscribe failed", "source", l.ID(), "error", err)
	}
}

func (l *LogStream) pingLoop(ctx context.Context, client *ws.Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Ping(); err != nil {
				return
			}
		}
	}
}
