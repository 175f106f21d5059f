package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sgupta-algo/tickrunner/internal/domain"
	"github.com/sgupta-algo/tickrunner/internal/platform/sharekhan"
)

// ConnState is the connection state of the market data feed.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// TickSink receives price ticks in per-scrip order.
type TickSink interface {
	OnTick(ctx context.Context, tick domain.Tick)
}

// AckSink receives order acknowledgements from the stream.
type AckSink interface {
	HandleAck(ctx context.Context, ack domain.OrderAck)
}

// Scheduler serializes tasks per scrip code.
type Scheduler interface {
	Submit(key int, task func())
}

// Stream is the transport surface the feed drives. *sharekhan.Stream is the
// production implementation.
type Stream interface {
	OnTick(h sharekhan.TickHandler)
	OnAck(h sharekhan.AckHandler)
	OnDisconnect(h sharekhan.DisconnectHandler)
	Connect(ctx context.Context, accessToken string) error
	Send(msg sharekhan.ControlMessage) error
	Connected() bool
	Disconnect()
	Close() error
}

// Config holds the feed's connection policy.
type Config struct {
	Window            TradingWindow
	ReconnectInterval time.Duration
	ReconnectDelay    time.Duration
	CredentialID      string
	CustomerID        string
}

// MarketDataFeed owns the streaming connection lifecycle. It connects only
// inside the trading window, checks every ReconnectInterval whether a
// connection should exist, and retries once after ReconnectDelay on an
// unexpected drop. Ticks are routed through the per-scrip scheduler so that
// updates for one instrument are processed in arrival order.
type MarketDataFeed struct {
	stream   Stream
	tokens   sharekhan.TokenSource
	registry *SubscriptionRegistry
	cache    domain.PriceCache
	sched    Scheduler
	ticks    TickSink
	acks     AckSink
	cfg      Config
	logger   *slog.Logger

	mu    sync.Mutex
	state ConnState

	runCtx context.Context
}

// New creates a MarketDataFeed and registers its stream handlers.
func New(
	stream Stream,
	tokens sharekhan.TokenSource,
	registry *SubscriptionRegistry,
	cache domain.PriceCache,
	sched Scheduler,
	ticks TickSink,
	acks AckSink,
	cfg Config,
	logger *slog.Logger,
) *MarketDataFeed {
	f := &MarketDataFeed{
		stream:   stream,
		tokens:   tokens,
		registry: registry,
		cache:    cache,
		sched:    sched,
		ticks:    ticks,
		acks:     acks,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "feed")),
	}
	stream.OnTick(f.handleTick)
	stream.OnAck(f.handleAck)
	stream.OnDisconnect(f.handleDisconnect)
	return f
}

// State returns the current connection state.
func (f *MarketDataFeed) State() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Run drives the connection lifecycle until ctx is cancelled. It attempts an
// immediate connection when starting inside the trading window, then
// re-evaluates every ReconnectInterval.
func (f *MarketDataFeed) Run(ctx context.Context) error {
	f.runCtx = ctx

	f.logger.Info("market data feed started")
	defer f.logger.Info("market data feed stopped")

	f.evaluate(ctx)

	ticker := time.NewTicker(f.cfg.ReconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = f.stream.Close()
			return ctx.Err()
		case <-ticker.C:
			f.evaluate(ctx)
		}
	}
}

// evaluate reconciles the connection with the trading window: connect when
// inside the window and disconnected, disconnect when the window has closed.
func (f *MarketDataFeed) evaluate(ctx context.Context) {
	if !f.cfg.Window.Contains(time.Now()) {
		f.mu.Lock()
		connected := f.state == StateConnected
		f.mu.Unlock()
		if connected {
			f.stream.Disconnect()
			f.setState(StateDisconnected)
			f.logger.Info("trading window closed, feed disconnected")
		}
		return
	}

	f.mu.Lock()
	if f.state != StateDisconnected {
		f.mu.Unlock()
		return
	}
	f.state = StateConnecting
	f.mu.Unlock()

	if err := f.connect(ctx); err != nil {
		f.logger.Warn("feed connect failed", slog.String("error", err.Error()))
		f.setState(StateDisconnected)
		return
	}
	f.setState(StateConnected)
}

// connect dials the stream and restores the channel, ack, and per-scrip
// subscriptions.
func (f *MarketDataFeed) connect(ctx context.Context) error {
	token, err := f.tokens.Token(ctx, f.cfg.CredentialID)
	if err != nil {
		return err
	}

	if err := f.stream.Connect(ctx, token); err != nil {
		return err
	}

	if err := f.stream.Send(sharekhan.ChannelSubscribe()); err != nil {
		return err
	}
	if err := f.stream.Send(sharekhan.AckRegister(f.cfg.CustomerID)); err != nil {
		return err
	}

	active := f.registry.Active()
	if len(active) > 0 {
		keys := make([]string, 0, len(active))
		for _, k := range active {
			keys = append(keys, k.FeedKey())
		}
		if err := f.stream.Send(sharekhan.FeedSubscribe(keys)); err != nil {
			return err
		}
		f.logger.Info("feed subscriptions restored", slog.Int("count", len(keys)))
	}

	f.logger.Info("feed connected")
	return nil
}

// Subscribe registers interest in an instrument. The wire subscription is
// only sent when this is the first interest and the stream is connected; a
// later reconnect restores it otherwise.
func (f *MarketDataFeed) Subscribe(key domain.InstrumentKey) error {
	first := f.registry.Add(key)
	if !first {
		return nil
	}
	if !f.stream.Connected() {
		return nil
	}
	if err := f.stream.Send(sharekhan.FeedSubscribe([]string{key.FeedKey()})); err != nil {
		return err
	}
	f.logger.Debug("feed subscribed", slog.String("instrument", key.String()))
	return nil
}

// Unsubscribe releases interest in an instrument. When the last interest goes
// away the wire subscription is released and the cached price is dropped.
func (f *MarketDataFeed) Unsubscribe(ctx context.Context, key domain.InstrumentKey) error {
	last := f.registry.Remove(key)
	if !last {
		return nil
	}

	if err := f.cache.RemoveLTP(ctx, key.ScripCode); err != nil {
		f.logger.Warn("remove cached ltp failed",
			slog.Int("scrip_code", key.ScripCode),
			slog.String("error", err.Error()),
		)
	}

	if !f.stream.Connected() {
		return nil
	}
	if err := f.stream.Send(sharekhan.FeedUnsubscribe([]string{key.FeedKey()})); err != nil {
		return err
	}
	f.logger.Debug("feed unsubscribed", slog.String("instrument", key.String()))
	return nil
}

func (f *MarketDataFeed) setState(s ConnState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// --------------------------------------------------------------------------
// Stream handlers
// --------------------------------------------------------------------------

// handleTick caches the price and hands the tick to the sink on the scrip's
// serial queue, so two ticks for one scrip never race.
func (f *MarketDataFeed) handleTick(tick domain.Tick) {
	ctx := f.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	f.sched.Submit(tick.ScripCode, func() {
		if err := f.cache.SetLTP(ctx, tick.ScripCode, tick.LTP, tick.At); err != nil {
			f.logger.Warn("cache ltp failed",
				slog.Int("scrip_code", tick.ScripCode),
				slog.String("error", err.Error()),
			)
		}
		f.ticks.OnTick(ctx, tick)
	})
}

func (f *MarketDataFeed) handleAck(ack domain.OrderAck) {
	ctx := f.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				f.logger.Error("ack handler panic",
					slog.String("order_id", ack.OrderID),
					slog.Any("panic", r),
				)
			}
		}()
		f.acks.HandleAck(ctx, ack)
	}()
}

// handleDisconnect runs once per unexpected drop: it schedules a single
// immediate retry after ReconnectDelay, leaving further attempts to the
// periodic check in Run.
func (f *MarketDataFeed) handleDisconnect(err error) {
	f.setState(StateDisconnected)
	f.logger.Warn("feed disconnected", slog.String("error", err.Error()))

	ctx := f.runCtx
	if ctx == nil {
		return
	}

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.cfg.ReconnectDelay):
		}
		f.evaluate(ctx)
	}()
}
