package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pumppulse/metrics"
	"pumppulse/models"
)

// createLogMarker identifies the pump program's create instruction in a
// transaction's log lines.
const createLogMarker = "Program log: Instruction: Create"

// Skip reasons, used as metric labels.
const (
	reasonMalformed     = "malformed"
	reasonNotCreate     = "not_create"
	reasonNotLogEvent   = "not_log_notification"
	reasonFailedTx      = "failed_transaction"
	reasonNoSignature   = "missing_signature"
	reasonNoMint        = "missing_mint"
	reasonUnknownSource = "unknown_source"
)

// Normalizer turns raw vendor messages into canonical TokenEvents. The
// per-source mapping is pure; the wrapper stamps ReceivedAt from the
// injected clock, forced monotonic across the process.
type Normalizer struct {
	log    *zap.SugaredLogger
	now    func() time.Time
	lastTS atomic.Int64
}

func New(log *zap.SugaredLogger, now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{log: log, now: now}
}

// Normalize maps one raw message. The second return is false when the
// message is skipped: trades, heartbeats, confirmations, malformed
// payloads, and events missing their identity are all filtered here,
// never surfaced as pipeline errors.
func (n *Normalizer) Normalize(raw models.RawMessage) (models.TokenEvent, bool) {
	ev, reason := mapRaw(raw.Source, raw.Data)
	if reason != "" {
		metrics.IncrementSkipped(string(raw.Source), reason)
		n.log.Debugw("Skipped upstream message", "source", raw.Source, "reason", reason)
		return models.TokenEvent{}, false
	}

	ev.ReceivedAt = n.stamp()
	return ev, true
}

// stamp returns a strictly increasing wall-clock millisecond timestamp.
func (n *Normalizer) stamp() int64 {
	for {
		now := n.now().UnixMilli()
		last := n.lastTS.Load()
		if now <= last {
			now = last + 1
		}
		if n.lastTS.CompareAndSwap(last, now) {
			return now
		}
	}
}

// mapRaw dispatches to the per-source mapping. Pure: same input, same
// output. A non-empty reason means skip.
func mapRaw(source models.SourceID, data []byte) (models.TokenEvent, string) {
	switch source {
	case models.SourcePumpPortal:
		return mapPumpPortal(data)
	case models.SourceLogStream:
		return mapLogStream(data)
	case models.SourcePoller:
		return mapListing(data)
	default:
		return models.TokenEvent{}, reasonUnknownSource
	}
}

// portalMessage is the PumpPortal wire shape. Everything but a create
// (trades, subscribe acks) is filtered on txType.
type portalMessage struct {
	Signature             string  `json:"signature"`
	Mint                  string  `json:"mint"`
	TraderPublicKey       string  `json:"traderPublicKey"`
	TxType                string  `json:"txType"`
	Name                  string  `json:"name"`
	Symbol                string  `json:"symbol"`
	URI                   string  `json:"uri"`
	Timestamp             int64   `json:"timestamp"`
	MarketCapSol          float64 `json:"marketCapSol"`
	VSolInBondingCurve    float64 `json:"vSolInBondingCurve"`
	VTokensInBondingCurve float64 `json:"vTokensInBondingCurve"`
}

func mapPumpPortal(data []byte) (models.TokenEvent, string) {
	var msg portalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.TokenEvent{}, reasonMalformed
	}
	if msg.TxType != "create" {
		return models.TokenEvent{}, reasonNotCreate
	}
	if msg.Signature == "" {
		return models.TokenEvent{}, reasonNoSignature
	}
	if msg.Mint == "" {
		return models.TokenEvent{}, reasonNoMint
	}

	return models.TokenEvent{
		Signature:            msg.Signature,
		Mint:                 msg.Mint,
		Creator:              msg.TraderPublicKey,
		CreatedTimestamp:     msg.Timestamp,
		Name:                 msg.Name,
		Symbol:               msg.Symbol,
		URI:                  msg.URI,
		MarketCapSol:         msg.MarketCapSol,
		VirtualSolReserves:   msg.VSolInBondingCurve,
		VirtualTokenReserves: msg.VTokensInBondingCurve,
		Source:               models.SourcePumpPortal,
	}, ""
}

// logNotification is the log-stream wire shape: a transaction update
// with log lines and account keys.
type logNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Context struct {
				Slot int64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Signature   string      `json:"signature"`
				Err         interface{} `json:"err"`
				Logs        []string    `json:"logs"`
				AccountKeys []string    `json:"accountKeys"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

func mapLogStream(data []byte) (models.TokenEvent, string) {
	var msg logNotification
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.TokenEvent{}, reasonMalformed
	}
	if msg.Method != "logsNotification" {
		return models.TokenEvent{}, reasonNotLogEvent
	}

	value := msg.Params.Result.Value
	if value.Err != nil {
		return models.TokenEvent{}, reasonFailedTx
	}
	if !hasCreateMarker(value.Logs) {
		return models.TokenEvent{}, reasonNotCreate
	}
	if value.Signature == "" {
		return models.TokenEvent{}, reasonNoSignature
	}
	// Creation transactions list the fee payer first and the new mint
	// second in their account keys.
	if len(value.AccountKeys) < 2 || value.AccountKeys[1] == "" {
		return models.TokenEvent{}, reasonNoMint
	}

	return models.TokenEvent{
		Signature: value.Signature,
		Mint:      value.AccountKeys[1],
		Creator:   value.AccountKeys[0],
		Slot:      msg.Params.Result.Context.Slot,
		Source:    models.SourceLogStream,
	}, ""
}

func hasCreateMarker(logs []string) bool {
	for _, line := range logs {
		if strings.Contains(line, createLogMarker) {
			return true
		}
	}
	return false
}

// listing is one item of the REST listing endpoint. Listings carry no
// transaction signature, so the dedup key is derived from the mint and
// creation timestamp instead.
type listing struct {
	Mint                 string  `json:"mint"`
	Creator              string  `json:"creator"`
	Name                 string  `json:"name"`
	Symbol               string  `json:"symbol"`
	ImageURI             string  `json:"image_uri"`
	CreatedTimestamp     int64   `json:"created_timestamp"`
	MarketCap            float64 `json:"market_cap"`
	VirtualSolReserves   float64 `json:"virtual_sol_reserves"`
	VirtualTokenReserves float64 `json:"virtual_token_reserves"`
}

func mapListing(data []byte) (models.TokenEvent, string) {
	var msg listing
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.TokenEvent{}, reasonMalformed
	}
	if msg.Mint == "" {
		return models.TokenEvent{}, reasonNoMint
	}

	return models.TokenEvent{
		Signature:            fmt.Sprintf("%s-%d", msg.Mint, msg.CreatedTimestamp),
		Mint:                 msg.Mint,
		Creator:              msg.Creator,
		CreatedTimestamp:     msg.CreatedTimestamp,
		Name:                 msg.Name,
		Symbol:               msg.Symbol,
		URI:                  msg.ImageURI,
		MarketCapSol:         msg.MarketCap,
		VirtualSolReserves:   msg.VirtualSolReserves,
		VirtualTokenReserves: msg.VirtualTokenReserves,
		Source:               models.SourcePoller,
	}, ""
}
