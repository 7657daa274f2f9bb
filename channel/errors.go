package channel

import (
	"fmt"

	goerrors "github.com/go-errors/errors"

	"github.com/hashplex/lightningd/lnpeer"
)

// ErrInsufficientFunds is a local, non-fatal error: coin selection could not
// cover the requested amount. No state change occurs and the channel's
// worker remains alive.
type ErrInsufficientFunds struct {
	Needed int64
}

func (e *ErrInsufficientFunds) Error() string {
	return "not enough money"
}

// ErrInvalidAmount is returned for cmd_send(0) and cmd_send(x) with x larger
// than our_balance (§4.2 boundary policy): rejected locally before any
// network activity.
type ErrInvalidAmount struct {
	Reason string
}

func (e *ErrInvalidAmount) Error() string {
	return e.Reason
}

// FatalCategory names one of the taxonomy entries of §7 that terminate a
// channel's worker.
type FatalCategory string

const (
	CategoryInvalidSignature       FatalCategory = "invalid signature"
	CategoryProtocolStateViolation FatalCategory = "unexpected packet"
	CategoryChainAdapterFailure    FatalCategory = "chain adapter failure"
	CategoryTransportFailure       FatalCategory = "transport failure"
	CategoryPeerError              FatalCategory = "peer reported error"
)

// FatalError wraps any of the categories above. Raising one from a worker
// task (a) best-effort notifies the peer with pkt_error, (b) terminates the
// channel's worker, (c) releases the pending local command, if any, with
// failure — matching §7's propagation policy. The go-errors/errors wrapper
// captures a stack trace the way daemon/lnd.go does for unexpected
// conditions in the teacher.
type FatalError struct {
	Category FatalCategory
	Peer     lnpeer.Identity
	cause    *goerrors.Error
}

func NewFatalError(peer lnpeer.Identity, category FatalCategory, cause error) *FatalError {
	return &FatalError{
		Category: category,
		Peer:     peer,
		cause:    goerrors.Wrap(cause, 1),
	}
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.cause.Err)
}

func (e *FatalError) Unwrap() error {
	return e.cause.Err
}

// ErrWorkerDead is returned to any task submitted to a worker that has
// already hit a fatal error.
type ErrWorkerDead struct {
	Peer  lnpeer.Identity
	Cause error
}

func (e *ErrWorkerDead) Error() string {
	return fmt.Sprintf("channel to %s is dead: %v", e.Peer, e.Cause)
}
