package obalance

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/felborne/voucher-gateway/internal/voucher"
)

// RedisKeyFmt is the hash key holding one client's balance fields.
const RedisKeyFmt = "vgc:balance:%s"

const (
	fieldOutstanding = "outstanding"
	fieldLocked      = "locked"
)

// RedisTracker persists Balance records in a Redis hash per client, using
// go-redis's optimistic WATCH/MULTI transaction to make an arbitrary
// read-modify-write (not just the fixed compare-and-set the teacher's
// seedAndIncrScript Lua script handles) atomic under concurrent callers.
type RedisTracker struct {
	rdb *redis.Client
}

func NewRedisTracker(rdb *redis.Client) *RedisTracker {
	return &RedisTracker{rdb: rdb}
}

func key(client voucher.ClientID) string {
	return fmt.Sprintf(RedisKeyFmt, client.Hex())
}

func (r *RedisTracker) WithClient(ctx context.Context, client voucher.ClientID, fn func(*Balance) error) error {
	k := key(client)

	txFn := func(tx *redis.Tx) error {
		vals, err := tx.HMGet(ctx, k, fieldOutstanding, fieldLocked).Result()
		if err != nil {
			return fmt.Errorf("obalance: hmget %s: %w", k, err)
		}
		bal, err := parseBalance(vals)
		if err != nil {
			return fmt.Errorf("obalance: parse %s: %w", k, err)
		}

		if err := fn(&bal); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k,
				fieldOutstanding, strconv.FormatUint(bal.Outstanding, 10),
				fieldLocked, strconv.FormatUint(bal.Locked, 10),
			)
			return nil
		})
		if err != nil {
			return fmt.Errorf("obalance: write back %s: %w", k, err)
		}
		return nil
	}

	err := r.rdb.Watch(ctx, txFn, k)
	if err == redis.TxFailedErr {
		return fmt.Errorf("obalance: concurrent modification of %s", k)
	}
	return err
}

func parseBalance(vals []any) (Balance, error) {
	var bal Balance
	if v, ok := vals[0].(string); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Balance{}, err
		}
		bal.Outstanding = n
	}
	if v, ok := vals[1].(string); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Balance{}, err
		}
		bal.Locked = n
	}
	return bal, nil
}
