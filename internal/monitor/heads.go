// Package monitor watches broadcast click transactions until their receipts
// arrive, driven by a newHeads WebSocket subscription.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
)

// ErrFeedExhausted is delivered to subscribers when the feed gives up
// reconnecting.
var ErrFeedExhausted = errors.New("newHeads subscription lost: reconnect attempts exhausted")

// ErrFeedStopped is delivered to subscribers when the feed is shut down.
var ErrFeedStopped = errors.New("newHeads subscription stopped")

const (
	// DefaultMaxReconnects is how many consecutive reconnects are attempted.
	DefaultMaxReconnects = 5

	// DefaultReconnectDelay is the fixed wait between reconnect attempts.
	DefaultReconnectDelay = 2 * time.Second

	subscriberBuffer = 16
	readTimeout      = 60 * time.Second
)

// Head is a new block notification.
type Head struct {
	Number uint64
	Hash   common.Hash
}

// HeadRecorder receives reconnect attempts.
type HeadRecorder interface {
	RecordHeadReconnect()
}

// HeadFeedConfig for creating a HeadFeed.
type HeadFeedConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	Metrics        HeadRecorder
	Logger         *slog.Logger
}

// HeadFeed holds one WebSocket connection subscribed to newHeads and fans
// block notifications out to every subscriber.
type HeadFeed struct {
	url            string
	maxReconnects  int
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
	metrics        HeadRecorder
	logger         *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	err    error // set once the feed has ended
	latest uint64
}

// NewHeadFeed creates a feed. Call Run to connect.
func NewHeadFeed(cfg HeadFeedConfig) *HeadFeed {
	maxReconnects := cfg.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = DefaultMaxReconnects
	}
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HeadFeed{
		url:            cfg.URL,
		maxReconnects:  maxReconnects,
		reconnectDelay: delay,
		dialer:         dialer,
		metrics:        cfg.Metrics,
		logger:         logger,
		subs:           make(map[uint64]*Subscription),
	}
}

// Subscription receives heads until it is unsubscribed or the feed ends.
type Subscription struct {
	feed  *HeadFeed
	id    uint64
	heads chan Head
	err   error
	once  sync.Once
}

// Heads returns the notification channel. It is closed when the feed ends
// or the subscription is dropped.
func (s *Subscription) Heads() <-chan Head {
	return s.heads
}

// Err returns why the channel closed. It is nil after Unsubscribe.
func (s *Subscription) Err() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	return s.err
}

// Unsubscribe stops delivery and closes the channel.
func (s *Subscription) Unsubscribe() {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	delete(s.feed.subs, s.id)
	s.close(nil)
}

// close must be called with the feed lock held.
func (s *Subscription) close(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.heads)
	})
}

// Subscribe registers a new subscriber. Subscribing to an ended feed yields
// an already closed subscription carrying the feed's error.
func (f *HeadFeed) Subscribe() *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := &Subscription{feed: f, heads: make(chan Head, subscriberBuffer)}
	if f.err != nil {
		s.close(f.err)
		return s
	}
	f.nextID++
	s.id = f.nextID
	f.subs[s.id] = s
	return s
}

// Latest returns the highest block number seen.
func (f *HeadFeed) Latest() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

// Subscribers returns the number of live subscriptions.
func (f *HeadFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Run connects and keeps the subscription alive until ctx is done or
// reconnects are exhausted. Either way every subscriber is closed.
func (f *HeadFeed) Run(ctx context.Context) error {
	attempts := 0
	for {
		subscribed, err := f.session(ctx)
		if ctx.Err() != nil {
			f.end(ErrFeedStopped)
			return ctx.Err()
		}
		if subscribed {
			attempts = 0
		}

		attempts++
		if attempts > f.maxReconnects {
			f.logger.Error("newHeads feed giving up",
				slog.Int("attempts", attempts-1),
				slog.String("error", errString(err)),
			)
			f.end(ErrFeedExhausted)
			return fmt.Errorf("%w: %v", ErrFeedExhausted, err)
		}

		f.logger.Warn("newHeads feed disconnected, reconnecting",
			slog.Int("attempt", attempts),
			slog.Int("max_attempts", f.maxReconnects),
			slog.Duration("delay", f.reconnectDelay),
			slog.String("error", errString(err)),
		)
		if f.metrics != nil {
			f.metrics.RecordHeadReconnect()
		}

		select {
		case <-ctx.Done():
			f.end(ErrFeedStopped)
			return ctx.Err()
		case <-time.After(f.reconnectDelay):
		}
	}
}

// session runs one connection. subscribed reports whether the node
// acknowledged the subscription before the connection failed.
func (f *HeadFeed) session(ctx context.Context) (subscribed bool, err error) {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()

	// Unblock ReadJSON on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	subscribeMsg := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "eth_subscribe",
		"params":  []string{"newHeads"},
		"id":      1,
	}
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		return false, fmt.Errorf("failed to subscribe to newHeads: %w", err)
	}

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return subscribed, err
		}

		var msg struct {
			ID     *uint64         `json:"id"`
			Result json.RawMessage `json:"result"`
			Error  *struct {
				Message string `json:"message"`
			} `json:"error"`
			Params *struct {
				Result struct {
					Number hexutil.Uint64 `json:"number"`
					Hash   common.Hash    `json:"hash"`
				} `json:"result"`
			} `json:"params"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return subscribed, fmt.Errorf("read: %w", err)
		}

		switch {
		case msg.Error != nil:
			return subscribed, fmt.Errorf("subscription rejected: %s", msg.Error.Message)
		case msg.ID != nil:
			subscribed = true
			f.logger.Info("subscribed to newHeads", slog.String("url", f.url))
		case msg.Params != nil:
			f.publish(Head{Number: uint64(msg.Params.Result.Number), Hash: msg.Params.Result.Hash})
		}
	}
}

// publish delivers a head without blocking. A subscriber whose buffer is
// full misses the head; the next one triggers the same receipt check.
func (f *HeadFeed) publish(h Head) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.latest = max(f.latest, h.Number)
	for _, s := range f.subs {
		select {
		case s.heads <- h:
		default:
		}
	}
}

func (f *HeadFeed) end(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.err = err
	for id, s := range f.subs {
		s.close(err)
		delete(f.subs, id)
	}
}

// WebSocketURL derives a ws:// URL from an http:// RPC URL.
func WebSocketURL(rpcURL string) string {
	switch {
	case strings.HasPrefix(rpcURL, "http://"):
		return "ws://" + strings.TrimPrefix(rpcURL, "http://")
	case strings.HasPrefix(rpcURL, "https://"):
		return "wss://" + strings.TrimPrefix(rpcURL, "https://")
	default:
		return rpcURL
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
