package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"onchainScreener/internal/metrics"
	"onchainScreener/internal/model"
	"onchainScreener/internal/notify"
)

// ErrReconnectExhausted is returned by Run once the reconnect budget is spent.
var ErrReconnectExhausted = errors.New("relay max reconnect attempts reached")

// Config controls the control-plane connection.
type Config struct {
	URL               string
	ServiceType       string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration
}

type frame struct {
	Type string `json:"type"`
}

// Relay forwards auto-open signals over one outbound websocket and every signal to the gateway.
// Messages are queued without bound and written by a single sender. A message drained while
// the connection is down is dropped.
type Relay struct {
	cfg     Config
	gateway notify.Gateway
	dialer  *websocket.Dialer
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu     sync.Mutex
	queue  [][]byte
	wakeup chan struct{}

	connMu  sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	stopped   atomic.Bool
	alertOnce sync.Once
}

func New(cfg Config, gateway notify.Gateway, m *metrics.Metrics, logger *zap.Logger) *Relay {
	if cfg.ServiceType == "" {
		cfg.ServiceType = "onchain_screener"
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = 10
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Relay{
		cfg:     cfg,
		gateway: gateway,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		metrics: m,
		logger:  logger.With(zap.String("component", "relay")),
		wakeup:  make(chan struct{}, 1),
	}
}

// Connected reports whether the control-plane connection is up.
func (r *Relay) Connected() bool {
	r.connMu.RLock()
	defer r.connMu.RUnlock()
	return r.conn != nil
}

// Stopped reports whether the relay gave up reconnecting.
func (r *Relay) Stopped() bool {
	return r.stopped.Load()
}

// Deliver sends every signal to the gateway and queues the auto-open ones as one message.
func (r *Relay) Deliver(ctx context.Context, signals []model.Signal) {
	var autoOpen []model.Signal
	for _, sig := range signals {
		if r.gateway != nil {
			if err := r.gateway.SendAlert(ctx, sig); err != nil {
				r.logger.Warn("gateway alert failed", zap.String("ticker", sig.Ticker), zap.Error(err))
			}
		}
		if sig.AutoOpen {
			autoOpen = append(autoOpen, sig)
		}
	}
	if len(autoOpen) == 0 {
		return
	}
	if err := r.Publish(model.RelayMessage{ServiceType: r.cfg.ServiceType, Signals: autoOpen}); err != nil {
		r.logger.Warn("relay publish failed", zap.Error(err))
	}
}

// Publish queues a message for the sender loop. It never blocks.
func (r *Relay) Publish(msg any) error {
	if r.stopped.Load() {
		r.metrics.RelayDropped.Inc()
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal relay message: %w", err)
	}

	r.mu.Lock()
	r.queue = append(r.queue, data)
	depth := len(r.queue)
	r.mu.Unlock()
	r.metrics.RelayQueueDepth.Set(float64(depth))

	select {
	case r.wakeup <- struct{}{}:
	default:
	}
	return nil
}

// Run owns the connection until ctx is cancelled or the reconnect budget is spent.
func (r *Relay) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.sendLoop(runCtx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	attempt := 0
	for {
		conn, _, err := r.dialer.DialContext(ctx, r.cfg.URL, nil)
		if err == nil {
			attempt = 0
			r.logger.Info("relay connected", zap.String("url", r.cfg.URL))
			err = r.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Warn("relay connection lost", zap.Error(err))

		if attempt >= r.cfg.ReconnectAttempts {
			r.stop(ctx)
			return ErrReconnectExhausted
		}
		attempt++
		r.metrics.Reconnects.WithLabelValues("relay").Inc()
		r.logger.Info("relay reconnecting",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.cfg.ReconnectAttempts),
			zap.Duration("delay", r.cfg.ReconnectDelay),
		)

		timer := time.NewTimer(r.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *Relay) stop(ctx context.Context) {
	r.stopped.Store(true)
	r.alertOnce.Do(func() {
		r.logger.Error("relay max reconnect attempts reached", zap.Int("attempts", r.cfg.ReconnectAttempts))
		if r.gateway == nil {
			return
		}
		message := fmt.Sprintf("Max reconnect attempts reached for %s", r.cfg.URL)
		if err := r.gateway.SendErrorAlert(context.WithoutCancel(ctx), "SIGNAL RELAY ERROR", message); err != nil {
			r.logger.Error("send relay alert", zap.Error(err))
		}
	})
}

// serve runs the receive loop on conn until it fails or ctx ends.
func (r *Relay) serve(ctx context.Context, conn *websocket.Conn) error {
	r.setConn(conn)
	defer func() {
		r.setConn(nil)
		conn.Close()
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			r.logger.Debug("relay ignored non-json message")
			continue
		}
		switch f.Type {
		case "ping":
			if err := r.write(conn, []byte(`{"type":"pong"}`)); err != nil {
				return err
			}
		default:
			r.logger.Debug("relay ignored message", zap.String("type", f.Type))
		}
	}
}

func (r *Relay) setConn(conn *websocket.Conn) {
	r.connMu.Lock()
	r.conn = conn
	r.connMu.Unlock()
	if conn != nil {
		r.metrics.RelayConnected.Set(1)
	} else {
		r.metrics.RelayConnected.Set(0)
	}
}

func (r *Relay) currentConn() *websocket.Conn {
	r.connMu.RLock()
	defer r.connMu.RUnlock()
	return r.conn
}

func (r *Relay) write(conn *websocket.Conn, data []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (r *Relay) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wakeup:
		}
		for _, msg := range r.drain() {
			conn := r.currentConn()
			if conn == nil {
				r.metrics.RelayDropped.Inc()
				r.logger.Warn("relay down, message dropped")
				continue
			}
			if err := r.write(conn, msg); err != nil {
				r.metrics.RelayDropped.Inc()
				r.logger.Warn("relay write failed, message dropped", zap.Error(err))
				continue
			}
			r.metrics.RelaySent.Inc()
		}
	}
}

func (r *Relay) drain() [][]byte {
	r.mu.Lock()
	batch := r.queue
	r.queue = nil
	r.mu.Unlock()
	r.metrics.RelayQueueDepth.Set(0)
	return batch
}
