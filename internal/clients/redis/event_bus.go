package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/planforge/planforge-backend/internal/events"
	"github.com/planforge/planforge-backend/internal/pkg/logger"
)

// RelayMessage is one generation event addressed to a plan's stream channel.
// Mirror processes subscribe and replay these to clients attached elsewhere.
type RelayMessage struct {
	PlanID string       `json:"plan_id"`
	Event  events.Event `json:"event"`
}

type EventBus interface {
	Publish(ctx context.Context, msg RelayMessage) error
	Close() error
}

type eventBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewEventBus(log *logger.Logger) (EventBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ch := strings.TrimSpace(os.Getenv("REDIS_CHANNEL"))
	if ch == "" {
		ch = "plan_events"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &eventBus{
		log:     log.With("service", "RedisEventBus"),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (b *eventBus) Publish(ctx context.Context, msg RelayMessage) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis event bus not initialized")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *eventBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

// BusSink mirrors events onto the bus while also delivering them to a primary
// sink, so a stream stays live even when Redis publishing hiccups.
type BusSink struct {
	log     *logger.Logger
	bus     EventBus
	planID  string
	primary func(events.Event) error
}

func NewBusSink(log *logger.Logger, bus EventBus, planID string, primary func(events.Event) error) *BusSink {
	return &BusSink{
		log:     log.With("service", "BusSink"),
		bus:     bus,
		planID:  planID,
		primary: primary,
	}
}

func (s *BusSink) Emit(e events.Event) error {
	if s.bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.bus.Publish(ctx, RelayMessage{PlanID: s.planID, Event: e}); err != nil {
			s.log.Warn("event relay publish failed", "plan_id", s.planID, "error", err)
		}
		cancel()
	}
	if s.primary != nil {
		return s.primary(e)
	}
	return nil
}
