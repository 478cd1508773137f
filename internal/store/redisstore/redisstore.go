// Package redisstore provides a Redis-backed snapshot store. It doubles
// as the live feed transport: every write is published to a per-auction
// channel that observer processes subscribe to.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rostrumdev/rostrum/internal/clock"
	"github.com/rostrumdev/rostrum/internal/config"
	"github.com/rostrumdev/rostrum/internal/snapshot"
	"github.com/rostrumdev/rostrum/internal/store"
)

func init() {
	store.Register("redis", driver)
}

func driver(ctx context.Context, cfg config.StoreConfig, _ clock.Clock) (store.Store, error) {
	return Connect(ctx, cfg.Redis)
}

const (
	snapKeyPrefix  = "rostrum:snap:"
	feedKeyPrefix  = "rostrum:feed:"
	connectTimeout = 5 * time.Second
)

func snapKey(auctionID string) string { return snapKeyPrefix + auctionID }

func feedChannel(auctionID string) string { return feedKeyPrefix + auctionID }

// Client wraps a Redis connection as a snapshot store.
type Client struct {
	rdb *redis.Client
}

// Connect opens a Redis connection and verifies it with a ping.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Put uploads the snapshot and publishes it to the auction's feed
// channel. Photos of frozen players are stripped before upload so the
// payload stays bounded as the auction progresses.
func (c *Client) Put(ctx context.Context, snap *snapshot.Snapshot) error {
	trimmed := snap.TrimForRemote()
	data, err := trimmed.Encode()
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, snapKey(snap.AuctionID), data, 0)
	pipe.Publish(ctx, feedChannel(snap.AuctionID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing snapshot to redis: %w", err)
	}
	return nil
}

// Get fetches the latest snapshot for the auction.
func (c *Client) Get(ctx context.Context, auctionID string) (*snapshot.Snapshot, error) {
	data, err := c.rdb.Get(ctx, snapKey(auctionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("auction %s: %w", auctionID, store.ErrNoSnapshot)
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot from redis: %w", err)
	}

	snap, err := snapshot.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("auction %s: %w", auctionID, err)
	}
	return snap, nil
}

// Subscribe delivers every snapshot published for the auction to fn,
// in publish order, until the returned stop function is called.
// Payloads that fail to decode are dropped; subscribers reconcile via
// Get on their own schedule.
func (c *Client) Subscribe(ctx context.Context, auctionID string, fn func(*snapshot.Snapshot)) (func(), error) {
	sub := c.rdb.Subscribe(ctx, feedChannel(auctionID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribing to auction feed: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range sub.Channel() {
			snap, err := snapshot.Decode([]byte(msg.Payload))
			if err != nil {
				continue
			}
			fn(snap)
		}
	}()

	stop := func() {
		_ = sub.Close()
		<-done
	}
	return stop, nil
}

// Ping reports whether the Redis connection is healthy.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
