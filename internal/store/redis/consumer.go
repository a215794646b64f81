package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"trading-formulas/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const rangePage = 1000

// Consumer reads TF candles from Redis Streams via consumer groups.
type Consumer struct {
	client   *goredis.Client
	group    string
	consumer string
}

var _ model.StreamConsumer = (*Consumer)(nil)

// NewConsumer wraps client. Empty names default to "formulad" and "worker-1".
func NewConsumer(client *goredis.Client, group, consumer string) *Consumer {
	if group == "" {
		group = "formulad"
	}
	if consumer == "" {
		consumer = "worker-1"
	}
	log.Printf("[redis-consumer] group=%s consumer=%s", group, consumer)
	return &Consumer{client: client, group: group, consumer: consumer}
}

// EnsureConsumerGroup creates the group on every stream, reading only new
// entries. Existing groups are left alone.
func (c *Consumer) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := c.client.XGroupCreateMkStream(ctx, stream, c.group, "$").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// ConsumeTFCandles blocks on XREADGROUP and sends parsed candles to out.
// Entries are acknowledged once delivered. Returns when ctx is cancelled.
func (c *Consumer) ConsumeTFCandles(ctx context.Context, streams []string, out chan<- model.TFCandle) error {
	args := make([]string, len(streams)*2)
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := c.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  args,
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[redis-consumer] xreadgroup error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range results {
			if err := c.deliver(ctx, stream.Stream, stream.Messages, out); err != nil {
				return err
			}
		}
	}
}

// RecoverPending redelivers entries left unacknowledged by a previous run.
func (c *Consumer) RecoverPending(ctx context.Context, streams []string, out chan<- model.TFCandle) error {
	for _, stream := range streams {
		pending, err := c.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
			Stream: stream,
			Group:  c.group,
			Start:  "-",
			End:    "+",
			Count:  rangePage,
		}).Result()
		if err != nil || len(pending) == 0 {
			continue
		}
		ids := make([]string, len(pending))
		for i, p := range pending {
			ids[i] = p.ID
		}
		claimed, err := c.client.XClaim(ctx, &goredis.XClaimArgs{
			Stream:   stream,
			Group:    c.group,
			Consumer: c.consumer,
			Messages: ids,
		}).Result()
		if err != nil {
			log.Printf("[redis-consumer] xclaim error on %s: %v", stream, err)
			continue
		}
		if err := c.deliver(ctx, stream, claimed, out); err != nil {
			return err
		}
	}
	return nil
}

func (c *Consumer) deliver(ctx context.Context, stream string, msgs []goredis.XMessage, out chan<- model.TFCandle) error {
	for _, msg := range msgs {
		tfc, ok := decode(msg)
		if !ok {
			// poison entries are acknowledged and dropped
			c.client.XAck(ctx, stream, c.group, msg.ID)
			continue
		}
		select {
		case out <- tfc:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.client.XAck(ctx, stream, c.group, msg.ID)
	}
	return nil
}

// ReadStream returns every closed candle held by stream, oldest first.
func (c *Consumer) ReadStream(ctx context.Context, stream string) ([]model.TFCandle, error) {
	var out []model.TFCandle
	start := "-"
	for {
		msgs, err := c.client.XRangeN(ctx, stream, start, "+", rangePage).Result()
		if err != nil {
			return nil, fmt.Errorf("xrange %s from %s: %w", stream, start, err)
		}
		for _, msg := range msgs {
			if tfc, ok := decode(msg); ok && !tfc.Forming {
				out = append(out, tfc)
			}
		}
		if len(msgs) < rangePage {
			return out, nil
		}
		start = "(" + msgs[len(msgs)-1].ID
	}
}

// Close closes the client.
func (c *Consumer) Close() error {
	return c.client.Close()
}

func decode(msg goredis.XMessage) (model.TFCandle, bool) {
	var tfc model.TFCandle
	data, ok := msg.Values["data"].(string)
	if !ok {
		return tfc, false
	}
	if err := json.Unmarshal([]byte(data), &tfc); err != nil {
		log.Printf("[redis-consumer] bad candle %s: %v", msg.ID, err)
		return tfc, false
	}
	return tfc, true
}
