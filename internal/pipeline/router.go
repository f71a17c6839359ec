package pipeline

import (
	"github.com/nexuspay/fepgate/pkg/store/transaction"
)

// Router selects the processor for a transaction. Registration order is the
// tie-break: the first processor supporting the type wins.
type Router struct {
	processors []Processor
}

// NewRouter creates a router over the given processors.
func NewRouter(processors ...Processor) *Router {
	return &Router{processors: processors}
}

// Register appends a processor.
func (r *Router) Register(p Processor) {
	r.processors = append(r.processors, p)
}

// Route returns the processor for the type, or nil when none applies.
func (r *Router) Route(t transaction.Type) Processor {
	for _, p := range r.processors {
		if p.Supports(t) {
			return p
		}
	}
	return nil
}

// DefaultRouter wires the full processor set.
func DefaultRouter(repo transaction.Repository) *Router {
	return NewRouter(
		NewWithdrawalProcessor(),
		NewDepositProcessor(),
		NewTransferProcessor(),
		NewBalanceInquiryProcessor(),
		NewReversalProcessor(repo),
		NewP2PProcessor(),
		NewBillPaymentProcessor(),
		NewETicketTopUpProcessor(),
		NewTaiwanPayProcessor(),
		NewCardlessWithdrawalProcessor(),
		NewCrossBorderProcessor(),
		NewCurrencyExchangeProcessor(),
		NewEWalletProcessor(),
		NewNetworkProcessor(),
	)
}
