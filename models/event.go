package models

import "time"

// SourceID identifies an upstream feed.
type SourceID string

const (
	SourcePumpPortal SourceID = "pumpportal"
	SourceLogStream  SourceID = "logstream"
	SourcePoller     SourceID = "poller"
)

// ConnState is the connection lifecycle of a single source,
// owned by its supervisor.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateBackoff
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// TokenEvent is the canonical token-creation event. Immutable once
// built; only the feed's membership changes afterwards.
type TokenEvent struct {
	Signature            string   `json:"signature"`
	Mint                 string   `json:"mint"`
	Creator              string   `json:"creator,omitempty"`
	Slot                 int64    `json:"slot,omitempty"`
	CreatedTimestamp     int64    `json:"createdTimestamp,omitempty"`
	Name                 string   `json:"name,omitempty"`
	Symbol               string   `json:"symbol,omitempty"`
	URI                  string   `json:"uri,omitempty"`
	MarketCapSol         float64  `json:"marketCapSol"`
	VirtualSolReserves   float64  `json:"virtualSolReserves"`
	VirtualTokenReserves float64  `json:"virtualTokenReserves"`
	Source               SourceID `json:"source"`
	ReceivedAt           int64    `json:"receivedAt"`
}

// RawMessage is one verbatim upstream message plus receive metadata.
// Adapters emit these; only the normalizer interprets the payload.
type RawMessage struct {
	Source     SourceID
	Data       []byte
	ReceivedAt time.Time
}
