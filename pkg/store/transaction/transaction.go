// Package transaction defines the persistent transaction record, its status
// state machine, and the repository contract implemented by the memory,
// gorm, and badger backends.
package transaction

import (
	"time"
)

// Type classifies the business operation a record represents.
type Type string

const (
	TypeWithdrawal         Type = "WITHDRAWAL"
	TypeDeposit            Type = "DEPOSIT"
	TypeTransfer           Type = "TRANSFER"
	TypeBalanceInquiry     Type = "BALANCE_INQUIRY"
	TypeReversal           Type = "REVERSAL"
	TypeP2P                Type = "P2P"
	TypeBillPayment        Type = "BILL_PAYMENT"
	TypeETicketTopUp       Type = "ETICKET_TOPUP"
	TypeTaiwanPay          Type = "TAIWAN_PAY"
	TypeCardlessWithdrawal Type = "CARDLESS_WITHDRAWAL"
	TypeCrossBorder        Type = "CROSS_BORDER"
	TypeCurrencyExchange   Type = "CURRENCY_EXCHANGE"
	TypeEWallet            Type = "EWALLET"
	TypeNetworkManagement  Type = "NETWORK_MANAGEMENT"
	TypeUnknown            Type = "UNKNOWN"
)

// Status is the lifecycle state of a transaction record.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusProcessing      Status = "PROCESSING"
	StatusSentToHost      Status = "SENT_TO_HOST"
	StatusCompleted       Status = "COMPLETED"
	StatusApproved        Status = "APPROVED"
	StatusDeclined        Status = "DECLINED"
	StatusFailed          Status = "FAILED"
	StatusTimeout         Status = "TIMEOUT"
	StatusReversalPending Status = "REVERSAL_PENDING"
	StatusReversed        Status = "REVERSED"
)

// transitions is the full reachability table. Short-circuited transactions
// (duplicate, validation failure) are audited straight out of PENDING.
var transitions = map[Status][]Status{
	StatusPending:         {StatusProcessing, StatusDeclined, StatusFailed, StatusReversalPending},
	StatusProcessing:      {StatusSentToHost, StatusCompleted, StatusApproved, StatusDeclined, StatusFailed, StatusTimeout},
	StatusSentToHost:      {StatusCompleted, StatusApproved, StatusDeclined, StatusFailed, StatusTimeout},
	StatusCompleted:       {StatusReversalPending},
	StatusApproved:        {StatusReversalPending},
	StatusReversalPending: {StatusReversed},
}

// CanTransitionTo reports whether next is reachable from s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no forward-processing transition remains. A
// reversible terminal state may still move to REVERSAL_PENDING.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusApproved, StatusDeclined, StatusFailed, StatusTimeout, StatusReversed:
		return true
	}
	return false
}

// IsReversible reports whether a record in this status can be the original
// of a reversal.
func (s Status) IsReversible() bool {
	switch s {
	case StatusApproved, StatusCompleted, StatusPending:
		return true
	}
	return false
}

// Record is the persisted transaction row. The PAN is never stored in
// cleartext: EncryptedPAN holds ciphertext, PANHash a deterministic digest
// for equality lookup, MaskedPAN the display form.
type Record struct {
	TransactionID  string `json:"transaction_id"`
	Type           Type   `json:"type"`
	ProcessingCode string `json:"processing_code"`

	MaskedPAN    string `json:"masked_pan"`
	PANHash      string `json:"pan_hash"`
	EncryptedPAN string `json:"encrypted_pan"`

	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`

	SourceAccount      string `json:"source_account"`
	DestinationAccount string `json:"destination_account"`

	TerminalID        string `json:"terminal_id"`
	MerchantID        string `json:"merchant_id"`
	AcquiringBankCode string `json:"acquiring_bank_code"`

	Stan    string `json:"stan"`
	Rrn     string `json:"rrn"`
	Channel string `json:"channel"`

	Status       Status `json:"status"`
	ResponseCode string `json:"response_code"`
	AuthCode     string `json:"auth_code"`

	OriginalTransactionID string `json:"original_transaction_id,omitempty"`

	RequestedAt      time.Time `json:"requested_at"`
	TransactionAt    time.Time `json:"transaction_at"`
	RespondedAt      time.Time `json:"responded_at"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`

	ErrorDetails string `json:"error_details,omitempty"`

	// TransactionDate is the yyyy-mm-dd partition key derived from
	// TransactionAt.
	TransactionDate string `json:"transaction_date"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DateLayout is the partition-key format.
const DateLayout = "2006-01-02"

// TransitionTo applies a status change, rejecting anything outside the
// state machine.
func (r *Record) TransitionTo(next Status) error {
	if !r.Status.CanTransitionTo(next) {
		return &IllegalTransitionError{From: r.Status, To: next, TransactionID: r.TransactionID}
	}
	r.Status = next
	r.UpdatedAt = time.Now()
	return nil
}

// Touch stamps CreatedAt/UpdatedAt and derives the partition key. Called by
// repositories on first save.
func (r *Record) Touch(now time.Time) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.TransactionAt.IsZero() {
		r.TransactionAt = now
	}
	if r.TransactionDate == "" {
		r.TransactionDate = r.TransactionAt.Format(DateLayout)
	}
}

// Clone returns an independent copy. Repositories hand out clones so callers
// cannot mutate stored state.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}
