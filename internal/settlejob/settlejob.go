// Package settlejob defines the opaque settlement-job handle the CronEngine
// (spec §4.9) launches and polls. A job is driven externally — by the
// on-chain submitter — so this package only describes the handle shape and
// a launcher seam; it holds no queue or retry logic of its own (grounded on
// the teacher's settler package, which reduces an external chain-submission
// result to a handful of status outcomes via internal/settler/handler.go's
// switch, rather than owning the submission itself).
package settlejob

import (
	"context"

	"github.com/felborne/voucher-gateway/internal/voucher"
)

// SettleJob is an opaque, externally-driven settlement handle (§4.9,
// §12's try_cleanup_job). Implementations are owned by one client record
// and read under that client's tracker lock.
type SettleJob interface {
	// IsFinished reports whether the on-chain submitter has produced a
	// terminal result (success or failure) for this job.
	IsFinished() bool
	// IsSuccessful reports whether a finished job committed on-chain. Its
	// value is meaningless while IsFinished is false.
	IsSuccessful() bool
	// UpToInclNonce is the highest client nonce this job covers.
	UpToInclNonce() uint64
	// Reference is an opaque identifier (e.g. a transaction hash) used to
	// tag retired vouchers with the job that settled them.
	Reference() string
}

// Launcher submits a settlement covering the given prefix of a client's
// unspent vouchers and returns a handle to poll. prefixAtoms is the
// cumulative atom total of that prefix, upToInclNonce its highest nonce.
type Launcher interface {
	Launch(ctx context.Context, client voucher.ClientID, upToInclNonce uint64, prefixAtoms uint64) (SettleJob, error)
}

// FixedJob is a SettleJob with a constant, already-known outcome — used by
// tests and by launchers that settle synchronously.
type FixedJob struct {
	Finished   bool
	Successful bool
	UpToIncl   uint64
	Ref        string
}

func (f FixedJob) IsFinished() bool      { return f.Finished }
func (f FixedJob) IsSuccessful() bool    { return f.Successful }
func (f FixedJob) UpToInclNonce() uint64 { return f.UpToIncl }
func (f FixedJob) Reference() string     { return f.Ref }
