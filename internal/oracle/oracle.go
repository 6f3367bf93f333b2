// Package oracle implements ClientOracle (spec §4.7): a read-only,
// possibly-stale view of a client's on-chain collateral and subscription
// state. Reader wraps a gRPC sidecar call (or a MOCK_ORACLE-env fallback,
// mirroring the teacher's tee.Get dual path) behind a bounded LRU+TTL
// cache, so staleness is a deliberate, bounded property rather than an
// accident of network timing.
package oracle

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/felborne/voucher-gateway/internal/faults"
	"github.com/felborne/voucher-gateway/internal/oracle/oraclepb"
	"github.com/felborne/voucher-gateway/internal/voucher"
)

// ClientRecord is one client's oracle snapshot (§4.7, §4.9).
type ClientRecord struct {
	CollateralNow    uint64
	CollateralToBe   uint64
	SubscriptionsNow uint64
	IsSubscribedToBe bool
}

// Reader is the ClientOracle abstraction: a read-only callback over a
// client's oracle record.
type Reader interface {
	Read(ctx context.Context, client voucher.ClientID) (ClientRecord, error)
}

// cacheEntry pairs a record with the instant it was fetched, for TTL
// eviction independent of the LRU's own recency tracking.
type cacheEntry struct {
	record    ClientRecord
	fetchedAt time.Time
}

// CachedReader wraps a Reader with a bounded LRU cache and a staleness TTL.
type CachedReader struct {
	inner Reader
	cache *lru.Cache[voucher.ClientID, cacheEntry]
	ttl   time.Duration
	log   *zap.Logger
	now   func() time.Time
}

// NewCachedReader builds a CachedReader holding up to size entries, each
// valid for ttl before being re-fetched from inner.
func NewCachedReader(inner Reader, size int, ttl time.Duration, log *zap.Logger) (*CachedReader, error) {
	c, err := lru.New[voucher.ClientID, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("oracle: new lru cache: %w", err)
	}
	return &CachedReader{inner: inner, cache: c, ttl: ttl, log: log, now: time.Now}, nil
}

// Read returns the cached record if it is younger than the TTL, otherwise
// refreshes it from inner.
func (c *CachedReader) Read(ctx context.Context, client voucher.ClientID) (ClientRecord, error) {
	now := c.now()
	if entry, ok := c.cache.Get(client); ok && now.Sub(entry.fetchedAt) < c.ttl {
		return entry.record, nil
	}
	rec, err := c.inner.Read(ctx, client)
	if err != nil {
		return ClientRecord{}, err
	}
	c.cache.Add(client, cacheEntry{record: rec, fetchedAt: now})
	c.log.Debug("oracle: refreshed client record", zap.String("client", client.Hex()))
	return rec, nil
}

// GRPCReader reads a client's record over a gRPC channel to an oracle
// sidecar. The MOCK_ORACLE-env fallback for local/offline development is
// MockReader, chosen by NewReader (mirroring the teacher's
// tee.fetchGRPC/fetchMock dual path).
type GRPCReader struct {
	client oraclepb.OracleServiceClient
	log    *zap.Logger
}

// DialGRPCReader dials target (host:port) using the oraclepb JSON codec.
func DialGRPCReader(target string, log *zap.Logger) (*GRPCReader, error) {
	conn, err := grpc.NewClient(
		target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(oraclepb.Codec())),
	)
	if err != nil {
		return nil, fmt.Errorf("oracle: grpc dial %s: %w", target, err)
	}
	return &GRPCReader{client: oraclepb.NewOracleServiceClient(conn), log: log}, nil
}

func (r *GRPCReader) Read(ctx context.Context, client voucher.ClientID) (ClientRecord, error) {
	resp, err := r.client.GetClientRecord(ctx, &oraclepb.GetClientRecordRequest{
		ClientAddress: client.Hex(),
	})
	if err != nil {
		return ClientRecord{}, faults.VolatileIOErr(fmt.Errorf("oracle: GetClientRecord: %w", err))
	}
	return ClientRecord{
		CollateralNow:    resp.CollateralNow,
		CollateralToBe:   resp.CollateralToBe,
		SubscriptionsNow: resp.SubscriptionsNow,
		IsSubscribedToBe: resp.IsSubscribedToBe,
	}, nil
}

// MockReader returns a fixed record for every client, driven by
// MOCK_ORACLE_* env vars — for local development and integration tests
// without a live oracle sidecar.
type MockReader struct {
	Record ClientRecord
}

// NewMockReaderFromEnv builds a MockReader from MOCK_ORACLE_COLLATERAL_NOW,
// MOCK_ORACLE_COLLATERAL_TO_BE, MOCK_ORACLE_SUBSCRIPTIONS_NOW, and
// MOCK_ORACLE_SUBSCRIBED_TO_BE.
func NewMockReaderFromEnv() *MockReader {
	return &MockReader{Record: ClientRecord{
		CollateralNow:    envUint("MOCK_ORACLE_COLLATERAL_NOW", 0),
		CollateralToBe:   envUint("MOCK_ORACLE_COLLATERAL_TO_BE", 0),
		SubscriptionsNow: envUint("MOCK_ORACLE_SUBSCRIPTIONS_NOW", 0),
		IsSubscribedToBe: os.Getenv("MOCK_ORACLE_SUBSCRIBED_TO_BE") == "true",
	}}
}

func (m *MockReader) Read(_ context.Context, _ voucher.ClientID) (ClientRecord, error) {
	return m.Record, nil
}

func envUint(key string, dflt uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return dflt
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return dflt
	}
	return n
}

// NewReader dials a real oracle sidecar unless MOCK_ORACLE is set, in
// which case it returns a MockReader (mirroring the teacher's
// tee.Get dual path).
func NewReader(target string, log *zap.Logger) (Reader, error) {
	if os.Getenv("MOCK_ORACLE") != "" {
		return NewMockReaderFromEnv(), nil
	}
	return DialGRPCReader(target, log)
}
