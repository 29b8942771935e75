package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	activetrains "github.com/jaygeraghty/CentralTMServer-sub000"
)

const (
	DefaultKeyPrefix  = "train:"
	DefaultBufferSize = 1024
	writeTimeout      = 2 * time.Second
)

// Publisher writes a snapshot of each changed train to Redis. It is an
// activetrains.Observer. Updates are buffered and written from Run, so
// the store never waits on Redis. When the buffer is full, updates are
// dropped.
type Publisher struct {
	activetrains.NopObserver

	KeyPrefix string
	Channel   string
	TTL       time.Duration

	client  *redis.Client
	logger  *slog.Logger
	updates chan *activetrains.Train

	mu      sync.Mutex
	dropped int
}

func NewPublisher(client *redis.Client, channel string, ttl time.Duration, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		KeyPrefix: DefaultKeyPrefix,
		Channel:   channel,
		TTL:       ttl,
		client:    client,
		logger:    logger,
		updates:   make(chan *activetrains.Train, DefaultBufferSize),
	}
}

// Connects to the Redis URL and checks the connection.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

func (p *Publisher) TrainUpdated(train *activetrains.Train) {
	select {
	case p.updates <- train:
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
	}
}

// Number of updates lost to a full buffer.
func (p *Publisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Writes buffered updates until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case train := <-p.updates:
			if err := p.Publish(ctx, train); err != nil {
				p.logger.Warn("publishing snapshot failed", "uid", train.UID, "error", err)
			}
		}
	}
}

// Stores the snapshot under its key and announces it on the channel.
func (p *Publisher) Publish(ctx context.Context, train *activetrains.Train) error {
	data, err := json.Marshal(FromTrain(train))
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, p.KeyPrefix+train.UID, data, p.TTL)
	if p.Channel != "" {
		pipe.Publish(ctx, p.Channel, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing to redis: %w", err)
	}
	return nil
}

// Reads back a snapshot, or nil if there is none.
func (p *Publisher) Get(ctx context.Context, uid string) (*TrainSnapshot, error) {
	val, err := p.client.Get(ctx, p.KeyPrefix+uid).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snap := &TrainSnapshot{}
	if err := json.Unmarshal([]byte(val), snap); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return snap, nil
}
