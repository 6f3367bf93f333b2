package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/felborne/voucher-gateway/internal/settlejob"
	"github.com/felborne/voucher-gateway/internal/voucher"
)

const trackerKeyPrefix = "vgc:unspent:"

func trackerKey(client voucher.ClientID) string {
	return trackerKeyPrefix + client.Hex()
}

// wireVoucher is the JSON-serializable form of a voucher.SignedVoucher,
// mirroring the teacher's Session struct/HSet field mapping but stored as
// one JSON blob per client (a nonce-ordered array) rather than a hash,
// since UnspentVouchers is itself an ordered list, not a flat record.
type wireVoucher struct {
	Client    common.Address `json:"client"`
	Vendor    common.Address `json:"vendor"`
	Atoms     uint64         `json:"atoms"`
	Nonce     uint64         `json:"nonce"`
	Signature [65]byte       `json:"signature"`
	ChainID   string         `json:"chain_id"`
	Verifying common.Address `json:"verifying_contract"`
}

// wireSettled mirrors voucher.SettledVoucher: a retired voucher tagged with
// the job reference that settled it.
type wireSettled struct {
	V         wireVoucher `json:"voucher"`
	Reference string      `json:"reference"`
}

type wireRecord struct {
	Unspent        []wireVoucher `json:"unspent"`
	SpentStaging   []wireVoucher `json:"spent_staging"`
	Settled        []wireSettled `json:"settled"`
	LastKnownNonce *uint64       `json:"last_known_nonce,omitempty"`
}

func toWire(v voucher.Voucher) wireVoucher {
	sv, ok := v.(*voucher.SignedVoucher)
	if !ok {
		// Defensive: the only concrete Voucher implementation in this
		// module is SignedVoucher.
		return wireVoucher{Client: v.ClientIdentifier(), Vendor: v.VendorIdentifier(), Atoms: v.VoucherAtoms(), Nonce: v.Nonce()}
	}
	return wireVoucher{
		Client:    sv.Client,
		Vendor:    sv.Vendor,
		Atoms:     sv.Atoms,
		Nonce:     sv.VNonce,
		Signature: sv.Signature,
		ChainID:   sv.ChainID.String(),
		Verifying: sv.VerifyingContract,
	}
}

func fromWire(w wireVoucher) *voucher.SignedVoucher {
	chainID, ok := new(big.Int).SetString(w.ChainID, 10)
	if !ok {
		chainID = new(big.Int)
	}
	return &voucher.SignedVoucher{
		Client:            w.Client,
		Vendor:            w.Vendor,
		Atoms:             w.Atoms,
		VNonce:            w.Nonce,
		Signature:         w.Signature,
		ChainID:           chainID,
		VerifyingContract: w.Verifying,
	}
}

func marshalRecord(u *voucher.UnspentVouchers) ([]byte, error) {
	rec := wireRecord{}
	for _, v := range u.Unspent() {
		rec.Unspent = append(rec.Unspent, toWire(v))
	}
	for _, v := range u.SpentStaging() {
		rec.SpentStaging = append(rec.SpentStaging, toWire(v))
	}
	for _, sv := range u.Settled() {
		rec.Settled = append(rec.Settled, wireSettled{V: toWire(sv.V), Reference: sv.Reference})
	}
	if n, ok := u.LastKnownNonce(); ok {
		rec.LastKnownNonce = &n
	}
	return json.Marshal(rec)
}

func unmarshalRecord(data []byte) (*voucher.UnspentVouchers, error) {
	u := voucher.NewUnspentVouchers()
	if len(data) == 0 {
		return u, nil
	}
	var rec wireRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	for _, w := range rec.Unspent {
		u.Append(fromWire(w))
	}
	if rec.LastKnownNonce != nil {
		u.SetLastKnownNonce(*rec.LastKnownNonce)
	}

	staging := make([]voucher.Voucher, 0, len(rec.SpentStaging))
	for _, w := range rec.SpentStaging {
		staging = append(staging, fromWire(w))
	}
	u.SetSpentStaging(staging)

	settled := make([]voucher.SettledVoucher, 0, len(rec.Settled))
	for _, sw := range rec.Settled {
		settled = append(settled, voucher.SettledVoucher{V: fromWire(sw.V), Reference: sw.Reference})
	}
	u.SetSettled(settled)

	return u, nil
}

// RedisTracker persists each client's UnspentVouchers as one JSON blob,
// updated transactionally via go-redis's WATCH/MULTI idiom (same approach
// as internal/obalance.RedisTracker) so an arbitrary RMW closure is
// atomic under concurrent callers.
//
// A client's settlement-job handle (settlejob.SettleJob) is not stored in
// Redis: it is an opaque value returned by whatever Launcher submitted it,
// not a plain data record, so it has no generic wire encoding the way
// UnspentVouchers does. WithClientAndJob instead keeps job slots in a
// local, per-client-locked map, same as tracker.MemTracker, while the
// voucher list itself still goes through the Redis transaction above — so
// CronEngine and an Engine backed by the same *RedisTracker observe the
// same live unspent lists, with only the in-flight job marker scoped to
// this process.
type RedisTracker struct {
	rdb *redis.Client

	jobMu sync.Mutex
	jobs  map[voucher.ClientID]*sync.Mutex
	slots map[voucher.ClientID]settlejob.SettleJob
}

func NewRedisTracker(rdb *redis.Client) *RedisTracker {
	return &RedisTracker{
		rdb:   rdb,
		jobs:  make(map[voucher.ClientID]*sync.Mutex),
		slots: make(map[voucher.ClientID]settlejob.SettleJob),
	}
}

func (r *RedisTracker) jobLockFor(client voucher.ClientID) *sync.Mutex {
	r.jobMu.Lock()
	defer r.jobMu.Unlock()
	mu, ok := r.jobs[client]
	if !ok {
		mu = &sync.Mutex{}
		r.jobs[client] = mu
	}
	return mu
}

// WithClientAndJob runs fn against client's UnspentVouchers (persisted in
// Redis, via WithClient) and its settlement-job slot (kept in-process — see
// the RedisTracker doc comment) under that client's job lock, mirroring
// tracker.MemTracker.WithClientAndJob for the CronEngine (§4.9, §5 I8).
func (r *RedisTracker) WithClientAndJob(ctx context.Context, client voucher.ClientID, fn func(*voucher.UnspentVouchers, *settlejob.SettleJob) error) error {
	lock := r.jobLockFor(client)
	lock.Lock()
	defer lock.Unlock()

	r.jobMu.Lock()
	job := r.slots[client]
	r.jobMu.Unlock()

	if err := r.WithClient(ctx, client, func(u *voucher.UnspentVouchers) error {
		return fn(u, &job)
	}); err != nil {
		return err
	}

	r.jobMu.Lock()
	if job == nil {
		delete(r.slots, client)
	} else {
		r.slots[client] = job
	}
	r.jobMu.Unlock()
	return nil
}

// Clients scans Redis for every client with a tracked UnspentVouchers
// record, for the CronEngine's per-vendor sweep (§4.9). Grounded on the
// teacher's ScanAllSessions (internal/billing/session.go): cursor-driven
// SCAN rather than KEYS, so it doesn't block Redis on a large keyspace.
func (r *RedisTracker) Clients(ctx context.Context) ([]voucher.ClientID, error) {
	var out []voucher.ClientID
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, trackerKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("tracker: scan clients: %w", err)
		}
		for _, k := range keys {
			out = append(out, common.HexToAddress(strings.TrimPrefix(k, trackerKeyPrefix)))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func (r *RedisTracker) WithClient(ctx context.Context, client voucher.ClientID, fn func(*voucher.UnspentVouchers) error) error {
	k := trackerKey(client)

	txFn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, k).Bytes()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("tracker: get %s: %w", k, err)
		}
		rec, err := unmarshalRecord(raw)
		if err != nil {
			return fmt.Errorf("tracker: unmarshal %s: %w", k, err)
		}

		if err := fn(rec); err != nil {
			return err
		}

		out, err := marshalRecord(rec)
		if err != nil {
			return fmt.Errorf("tracker: marshal %s: %w", k, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, out, 0)
			return nil
		})
		return err
	}

	err := r.rdb.Watch(ctx, txFn, k)
	if err == redis.TxFailedErr {
		return fmt.Errorf("tracker: concurrent modification of %s", k)
	}
	return err
}
