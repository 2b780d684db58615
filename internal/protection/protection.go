// Package protection hooks the Orchestrator's pre-submit MEV-protection
// check. Real signing/relay integration stays an external collaborator;
// this package only defines the contract and a no-op default.
package protection

import (
	"context"

	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/shadowbook/execd/internal/model"
)

// TxEnvelope carries the on-chain transaction a DEX-venue allocation
// would submit, when one exists. Off-chain (CEX) allocations leave Tx
// nil; the protection service treats a nil Tx as automatically safe.
type TxEnvelope struct {
	VenueID string
	Tx      *gethtypes.Transaction
}

// Verdict is the protection service's judgement on one allocation.
type Verdict struct {
	Safe   bool
	Reason string
}

// Service is the external collaborator the Orchestrator consults before
// dispatching an allocation to an on-chain venue.
type Service interface {
	Protect(ctx context.Context, order model.ParentOrder, alloc model.Allocation, envelope TxEnvelope) (Verdict, error)
}

// NoopService always reports an allocation as safe; it is the default
// when no real MEV-protection integration is configured, matching the
// "operates in a synthetic mode" allowance for external collaborators.
type NoopService struct{}

func (NoopService) Protect(ctx context.Context, order model.ParentOrder, alloc model.Allocation, envelope TxEnvelope) (Verdict, error) {
	return Verdict{Safe: true}, nil
}
