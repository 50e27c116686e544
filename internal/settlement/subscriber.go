package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rwa-pool-ledger/internal/domain"
)

// SubscriberConfig configures the confirmation subscriber.
type SubscriberConfig struct {
	// ReconnectDelay is initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultSubscriberConfig returns default subscriber configuration.
func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Subscriber listens on the gateway's WebSocket feed for settlement
// confirmations and marks the corresponding journal entries SETTLED.
// Confirmations can arrive for entries the recorder already settled
// synchronously; MarkSettled tolerates that.
type Subscriber struct {
	endpoint string
	recorder *Recorder
	logger   *zap.Logger
	config   SubscriberConfig
}

// NewSubscriber creates a confirmation subscriber. A nil config uses
// DefaultSubscriberConfig.
func NewSubscriber(endpoint string, recorder *Recorder, logger *zap.Logger, config *SubscriberConfig) *Subscriber {
	cfg := DefaultSubscriberConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		endpoint: endpoint,
		recorder: recorder,
		logger:   logger,
		config:   cfg,
	}
}

// Run connects, subscribes and consumes confirmations until ctx is
// cancelled, reconnecting with exponential backoff on connection loss.
func (s *Subscriber) Run(ctx context.Context) {
	delay := s.config.ReconnectDelay

	for {
		if ctx.Err() != nil {
			return
		}

		err := s.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("confirmation feed disconnected", zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.config.MaxReconnectDelay {
			delay = s.config.MaxReconnectDelay
		}
	}
}

// consume runs one connection lifetime: dial, subscribe, read until error.
func (s *Subscriber) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	req := rpcRequest{JSONRPC: "2.0", ID: 1, Method: "settlement_subscribe"}
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go s.pingLoop(ctx, conn, done)

	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		s.handleMessage(ctx, message)
	}
}

// pingLoop keeps the connection alive for one connection lifetime.
func (s *Subscriber) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				// Connection is likely dead; the reader handles reconnect.
				return
			}
		}
	}
}

// wsConfirmation is the notification payload pushed by the gateway.
type wsConfirmation struct {
	Method string `json:"method"`
	Params struct {
		EntryID string `json:"entryId"`
		TxID    string `json:"txId"`
		Status  string `json:"status"`
	} `json:"params"`
}

// handleMessage parses one frame and applies a confirmation.
func (s *Subscriber) handleMessage(ctx context.Context, message []byte) {
	var notif wsConfirmation
	if err := json.Unmarshal(message, &notif); err != nil {
		s.logger.Debug("unparseable confirmation frame", zap.Error(err))
		return
	}
	if notif.Method != "settlement_confirmation" || notif.Params.EntryID == "" {
		// Subscription ack or unrelated frame.
		return
	}
	if notif.Params.Status != string(domain.SettlementStatusSettled) {
		return
	}

	if err := s.recorder.MarkSettled(ctx, notif.Params.EntryID, notif.Params.TxID); err != nil {
		s.logger.Warn("apply settlement confirmation",
			zap.String("entry_id", notif.Params.EntryID),
			zap.Error(err))
		return
	}
	s.logger.Debug("settlement confirmed",
		zap.String("entry_id", notif.Params.EntryID),
		zap.String("tx_id", notif.Params.TxID))
}
