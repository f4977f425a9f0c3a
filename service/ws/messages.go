package ws

import (
	"encoding/json"
	"errors"

	"github.com/signalflowhq/SignalFlow-server/cmd/models"
)

// Server -> client message types.
const (
	TypeSignal  = "signal"
	TypeSignals = "signals"
)

// Client -> server message types.
const (
	TypeAck  = "ack"
	TypeExec = "exec"
)

type SignalMessage struct {
	Type       string              `json:"type"`
	SignalID   uint                `json:"signal_id"`
	DeliveryID uint                `json:"delivery_id"`
	Trade      models.TradePayload `json:"trade"`
}

type BatchItem struct {
	DeliveryID uint                `json:"delivery_id"`
	Trade      models.TradePayload `json:"trade"`
}

type BatchMessage struct {
	Type    string      `json:"type"`
	Signals []BatchItem `json:"signals"`
}

// ClientMessage is an inbound acknowledgment or execution report.
type ClientMessage struct {
	Type       string  `json:"type"`
	DeliveryID uint    `json:"delivery_id"`
	Status     string  `json:"status,omitempty"`
	FilledQty  float64 `json:"filled_qty,omitempty"`
	AvgPrice   float64 `json:"avg_price,omitempty"`
	Error      string  `json:"error,omitempty"`
}

var errMalformedMessage = errors.New("malformed client message")

// ParseClientMessage validates an inbound frame. Anything that is not a
// well-formed ack or exec is rejected so the read loop can drop it without
// touching the ledger.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, errMalformedMessage
	}
	if msg.DeliveryID == 0 {
		return ClientMessage{}, errMalformedMessage
	}
	switch msg.Type {
	case TypeAck:
		return msg, nil
	case TypeExec:
		if msg.Status == "" {
			return ClientMessage{}, errMalformedMessage
		}
		return msg, nil
	default:
		return ClientMessage{}, errMalformedMessage
	}
}

// Executed reports whether an exec message carries a success status.
func (m ClientMessage) Executed() bool {
	switch m.Status {
	case "executed", "filled", "success":
		return true
	}
	return false
}
