package tasty

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Streamer fetches quote snapshots over the DXLink websocket feed. Each
// snapshot call opens a fresh connection, subscribes, collects one Quote
// event per requested symbol and disconnects; the gateway does not hold
// long-lived market data streams.
type Streamer struct {
	logger  *zap.Logger
	timeout time.Duration
}

// NewStreamer creates a Streamer. timeout bounds the whole snapshot call.
func NewStreamer(logger *zap.Logger, timeout time.Duration) *Streamer {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Streamer{logger: logger, timeout: timeout}
}

// dxMessage is the generic DXLink frame. Only the fields this client
// reads or writes are mapped.
type dxMessage struct {
	Type    string          `json:"type"`
	Channel int             `json:"channel"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	State   string          `json:"state,omitempty"`
}

// dxQuoteEvent is a Quote event in the FULL data format.
type dxQuoteEvent struct {
	EventType   string          `json:"eventType"`
	EventSymbol string          `json:"eventSymbol"`
	BidPrice    decimal.Decimal `json:"bidPrice"`
	AskPrice    decimal.Decimal `json:"askPrice"`
	BidSize     decimal.Decimal `json:"bidSize"`
	AskSize     decimal.Decimal `json:"askSize"`
}

// Snapshot subscribes to Quote events for symbols and returns one event
// per symbol, in the requested order. token and wsURL come from the
// session's api-quote-token.
func (s *Streamer) Snapshot(ctx context.Context, wsURL, token string, symbols []string) ([]Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dxlink dial: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	setup := map[string]any{
		"type": "SETUP", "channel": 0, "version": "0.1",
		"keepaliveTimeout": 60, "acceptKeepaliveTimeout": 60,
	}
	auth := map[string]any{"type": "AUTH", "channel": 0, "token": token}
	channelReq := map[string]any{
		"type": "CHANNEL_REQUEST", "channel": 1,
		"service": "FEED", "parameters": map[string]any{"contract": "AUTO"},
	}
	feedSetup := map[string]any{
		"type": "FEED_SETUP", "channel": 1,
		"acceptDataFormat": "FULL",
		"acceptEventFields": map[string][]string{
			"Quote": {"eventType", "eventSymbol", "bidPrice", "askPrice", "bidSize", "askSize"},
		},
	}
	add := make([]map[string]string, 0, len(symbols))
	for _, sym := range symbols {
		add = append(add, map[string]string{"type": "Quote", "symbol": sym})
	}
	subscribe := map[string]any{"type": "FEED_SUBSCRIPTION", "channel": 1, "add": add}

	for _, msg := range []map[string]any{setup, auth, channelReq, feedSetup, subscribe} {
		if err := conn.WriteJSON(msg); err != nil {
			return nil, fmt.Errorf("dxlink write %v: %w", msg["type"], err)
		}
	}

	expected := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		expected[sym] = true
	}
	collected := make(map[string]Quote, len(symbols))

	for len(collected) < len(expected) {
		var msg dxMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return nil, fmt.Errorf("dxlink read: %w", err)
		}

		switch msg.Type {
		case "ERROR":
			return nil, fmt.Errorf("dxlink error: %s %s", msg.Error, msg.Message)
		case "AUTH_STATE":
			if msg.State == "UNAUTHORIZED" && token == "" {
				return nil, fmt.Errorf("dxlink unauthorized")
			}
		case "KEEPALIVE":
			_ = conn.WriteJSON(map[string]any{"type": "KEEPALIVE", "channel": 0})
		case "FEED_DATA":
			var events []dxQuoteEvent
			if err := json.Unmarshal(msg.Data, &events); err != nil {
				s.logger.Debug("dxlink.decode_skipped", zap.Error(err))
				continue
			}
			for _, ev := range events {
				if ev.EventType != "Quote" || !expected[ev.EventSymbol] {
					continue
				}
				collected[ev.EventSymbol] = Quote{
					Symbol:   ev.EventSymbol,
					BidPrice: ev.BidPrice,
					AskPrice: ev.AskPrice,
					BidSize:  ev.BidSize,
					AskSize:  ev.AskSize,
				}
			}
		}
	}

	out := make([]Quote, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, collected[sym])
	}
	return out, nil
}
