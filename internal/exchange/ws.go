// ws.go implements the exchange's authenticated user-data WebSocket stream.
//
// THE CORE trades a single pre-configured symbol and never subscribes to
// public order-book channels; the engine only needs the account stream
// carrying fills, order-status transitions, and margin warnings. Frame
// types decoded here:
//
//   - ACCOUNT_UPDATE    — balance and position deltas
//   - ORDER_TRADE_UPDATE — order lifecycle transitions and fills
//   - MARGIN_CALL       — liquidation warning
//   - listenKeyExpired  — the exchange is about to drop the stream; the
//     listener must fetch a fresh listen key and reconnect
//
// The connection auto-reconnects with exponential backoff (1s -> 30s max)
// and re-derives a fresh listen key on every reconnect (listen keys expire
// server-side after a period of inactivity and must be kept alive by a
// periodic PUT).
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	listenKeyKeepAlive = 30 * time.Minute // how often we renew the listen key
	readTimeout        = 90 * time.Second // silent server triggers reconnect
	maxReconnectWait   = 30 * time.Second
	frameBufferSize    = 256
)

// AccountUpdateFrame carries a balance/position delta.
type AccountUpdateFrame struct {
	EventTimeMS int64             `json:"E"`
	Balances    []json.RawMessage `json:"B"`
	Positions   []json.RawMessage `json:"P"`
}

// OrderTradeUpdateFrame carries an order lifecycle transition or fill.
type OrderTradeUpdateFrame struct {
	EventTimeMS     int64  `json:"E"`
	Symbol          string `json:"s"`
	ClientOrderID   string `json:"c"`
	Side            string `json:"S"`
	OrderType       string `json:"o"`
	Status          string `json:"X"`
	ExchangeOrderID int64  `json:"i"`
	LastFilledQty   string `json:"l"`
	LastFilledPrice string `json:"L"`
	TradeID         int64  `json:"t"`
	UpdateTimeMS    int64  `json:"T"`
}

// MarginCallFrame warns that a position is near liquidation.
type MarginCallFrame struct {
	EventTimeMS int64             `json:"E"`
	Positions   []json.RawMessage `json:"p"`
}

// UserStream manages the single authenticated user-data WebSocket connection:
// connection lifecycle, listen-key renewal, frame decoding, and automatic
// reconnection with exponential backoff.
type UserStream struct {
	wsBaseURL string
	client    *Client
	auth      *Auth

	connMu sync.Mutex
	conn   *websocket.Conn

	listenKeyMu sync.RWMutex
	listenKey   string

	accountUpdateCh    chan AccountUpdateFrame
	orderTradeUpdateCh chan OrderTradeUpdateFrame
	marginCallCh       chan MarginCallFrame

	logger *slog.Logger
}

// NewUserStream creates a user-data stream bound to client's REST endpoint
// (used to create/renew the listen key) and auth.
func NewUserStream(wsBaseURL string, client *Client, auth *Auth, logger *slog.Logger) *UserStream {
	return &UserStream{
		wsBaseURL:          wsBaseURL,
		client:             client,
		auth:               auth,
		accountUpdateCh:    make(chan AccountUpdateFrame, frameBufferSize),
		orderTradeUpdateCh: make(chan OrderTradeUpdateFrame, frameBufferSize),
		marginCallCh:       make(chan MarginCallFrame, frameBufferSize),
		logger:             logger.With("component", "ws_user_stream"),
	}
}

// AccountUpdates returns a read-only channel of balance/position deltas.
func (s *UserStream) AccountUpdates() <-chan AccountUpdateFrame { return s.accountUpdateCh }

// OrderTradeUpdates returns a read-only channel of order lifecycle events.
func (s *UserStream) OrderTradeUpdates() <-chan OrderTradeUpdateFrame { return s.orderTradeUpdateCh }

// MarginCalls returns a read-only channel of liquidation warnings.
func (s *UserStream) MarginCalls() <-chan MarginCallFrame { return s.marginCallCh }

// Run connects and maintains the user-data stream with auto-reconnect.
// Blocks until ctx is cancelled.
func (s *UserStream) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("user stream disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close gracefully closes the connection.
func (s *UserStream) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *UserStream) connectAndRead(ctx context.Context) error {
	listenKey, err := s.createListenKey(ctx)
	if err != nil {
		return fmt.Errorf("create listen key: %w", err)
	}
	s.listenKeyMu.Lock()
	s.listenKey = listenKey
	s.listenKeyMu.Unlock()

	url := s.wsBaseURL + "/ws/" + listenKey
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	s.logger.Info("user stream connected")

	keepAliveCtx, cancelKeepAlive := context.WithCancel(ctx)
	defer cancelKeepAlive()
	go s.keepAliveLoop(keepAliveCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if s.dispatchFrame(msg) {
			return fmt.Errorf("listen key expired, forcing reconnect")
		}
	}
}

// dispatchFrame decodes msg and routes it to the matching frame channel.
// It returns true when the frame signals listenKeyExpired, which should
// force an immediate reconnect rather than waiting for a read failure.
func (s *UserStream) dispatchFrame(data []byte) (expired bool) {
	var envelope struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Debug("ignoring non-json ws message", "data", string(data))
		return false
	}

	switch envelope.EventType {
	case "ACCOUNT_UPDATE":
		var f AccountUpdateFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Error("unmarshal ACCOUNT_UPDATE", "error", err)
			return false
		}
		select {
		case s.accountUpdateCh <- f:
		default:
			s.logger.Warn("account update channel full, dropping frame")
		}

	case "ORDER_TRADE_UPDATE":
		var f OrderTradeUpdateFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Error("unmarshal ORDER_TRADE_UPDATE", "error", err)
			return false
		}
		select {
		case s.orderTradeUpdateCh <- f:
		default:
			s.logger.Warn("order trade update channel full, dropping frame", "client_order_id", f.ClientOrderID)
		}

	case "MARGIN_CALL":
		var f MarginCallFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Error("unmarshal MARGIN_CALL", "error", err)
			return false
		}
		select {
		case s.marginCallCh <- f:
		default:
			s.logger.Warn("margin call channel full, dropping frame")
		}

	case "listenKeyExpired":
		s.logger.Warn("listen key expired by exchange")
		return true

	default:
		s.logger.Debug("unknown ws frame type", "type", envelope.EventType)
	}
	return false
}

func (s *UserStream) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(listenKeyKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.listenKeyMu.RLock()
			key := s.listenKey
			s.listenKeyMu.RUnlock()
			if err := s.renewListenKey(ctx, key); err != nil {
				s.logger.Warn("listen key renewal failed", "error", err)
			}
		}
	}
}

func (s *UserStream) createListenKey(ctx context.Context) (string, error) {
	var result struct {
		ListenKey string `json:"listenKey"`
	}
	resp, err := s.client.http.R().
		SetContext(ctx).
		SetHeaders(s.auth.ListenKeyHeaders()).
		SetResult(&result).
		Post("/v1/userDataStream")
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("create listen key: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.ListenKey, nil
}

func (s *UserStream) renewListenKey(ctx context.Context, listenKey string) error {
	resp, err := s.client.http.R().
		SetContext(ctx).
		SetHeaders(s.auth.ListenKeyHeaders()).
		SetQueryParam("listenKey", listenKey).
		Put("/v1/userDataStream")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("renew listen key: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

