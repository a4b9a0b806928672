// Package redis publishes the bot's live state for dashboards and other
// consumers: latest tick, open interest and indicator snapshot per
// symbol, plus position and book updates over pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"oibot/internal/indicator"
	"oibot/internal/model"
	"oibot/internal/portfolio"
)

const defaultLatestTTL = 30 * time.Minute

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes latest-value keys and pub/sub events. All writes run
// through a circuit breaker; a down Redis costs one failed call, never a
// stall.
type Publisher struct {
	client *goredis.Client
	cb     *CircuitBreaker

	// OnWrite, when set, observes each successful write duration.
	OnWrite func(d time.Duration)
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a Publisher and pings the server.
func New(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	cb := NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
	}
	return &Publisher{client: client, cb: cb}, nil
}

// Run consumes ticks and publishes each as the symbol's latest. Blocks
// until ctx is cancelled or tickCh is closed.
func (p *Publisher) Run(ctx context.Context, tickCh <-chan model.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-tickCh:
			if !ok {
				return
			}
			p.PublishTick(ctx, t)
		}
	}
}

// PublishTick sets tick:latest:<symbol> and publishes on pub:tick:<symbol>.
func (p *Publisher) PublishTick(ctx context.Context, t model.Tick) {
	data, _ := json.Marshal(t)
	p.setAndPublish(ctx, "tick:latest:"+t.Symbol, "pub:tick:"+t.Symbol, data)
}

// PublishOpenInterest sets oi:latest:<symbol>.
func (p *Publisher) PublishOpenInterest(ctx context.Context, oi model.OpenInterest) {
	data, _ := json.Marshal(oi)
	p.setAndPublish(ctx, "oi:latest:"+oi.Symbol, "pub:oi:"+oi.Symbol, data)
}

// PublishSnapshot sets ind:latest:<symbol>:<tf> with the indicator
// readings of the most recent closed bar.
func (p *Publisher) PublishSnapshot(ctx context.Context, snap indicator.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	p.setAndPublish(ctx, "ind:latest:"+snap.Symbol+":"+snap.Timeframe, "pub:ind:"+snap.Symbol, data)
}

// PublishPosition publishes a position state change on
// pub:position:<symbol> and mirrors it under position:latest:<symbol>.
func (p *Publisher) PublishPosition(ctx context.Context, pos model.Position) {
	p.setAndPublish(ctx, "position:latest:"+pos.Symbol, "pub:position:"+pos.Symbol, pos.JSON())
}

// PublishBook sets book:state with equity and daily aggregates.
func (p *Publisher) PublishBook(ctx context.Context, st portfolio.State) {
	data, _ := json.Marshal(st)
	p.setAndPublish(ctx, "book:state", "pub:book", data)
}

func (p *Publisher) setAndPublish(ctx context.Context, key, channel string, data []byte) {
	start := time.Now()
	err := p.cb.Execute(func() error {
		pipe := p.client.Pipeline()
		pipe.Set(ctx, key, string(data), defaultLatestTTL)
		pipe.Publish(ctx, channel, string(data))
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		if err != ErrCircuitOpen {
			log.Printf("[redis] write %s: %v", key, err)
		}
		return
	}
	if p.OnWrite != nil {
		p.OnWrite(time.Since(start))
	}
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
