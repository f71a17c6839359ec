// Package pipeline runs each inbound transaction through an ordered stage
// chain: duplicate check, validation, routing, processing, audit. Any stage
// may short-circuit with a terminal response; audit runs on every path.
package pipeline

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nexuspay/fepgate/internal/iso8583"
	"github.com/nexuspay/fepgate/internal/pan"
	"github.com/nexuspay/fepgate/pkg/store/transaction"
)

// Standard field-39 response codes used by the gateway.
const (
	RespApproved        = "00"
	RespDoNotHonor      = "05"
	RespInvalidTxn      = "12"
	RespInvalidAmount   = "13"
	RespFormatError     = "30"
	RespTimeout         = "68"
	RespDuplicate       = "94"
	RespSystemError     = "96"
)

// typeByProcessingCode maps the leading two digits of field 3 to a
// transaction type.
var typeByProcessingCode = map[string]transaction.Type{
	"01": transaction.TypeWithdrawal,
	"02": transaction.TypeCardlessWithdrawal,
	"21": transaction.TypeDeposit,
	"31": transaction.TypeBalanceInquiry,
	"40": transaction.TypeTransfer,
	"48": transaction.TypeP2P,
	"50": transaction.TypeBillPayment,
	"53": transaction.TypeCrossBorder,
	"54": transaction.TypeEWallet,
	"57": transaction.TypeETicketTopUp,
	"58": transaction.TypeTaiwanPay,
	"59": transaction.TypeCurrencyExchange,
}

// DeriveType classifies a message by MTI and processing code.
func DeriveType(msg *iso8583.Message) transaction.Type {
	switch {
	case len(msg.MTI) == 4 && msg.MTI[1] == '8':
		return transaction.TypeNetworkManagement
	case len(msg.MTI) == 4 && msg.MTI[1] == '4':
		return transaction.TypeReversal
	}
	code := msg.FieldN(iso8583.FieldProcessingCode)
	if len(code) >= 2 {
		if t, ok := typeByProcessingCode[code[:2]]; ok {
			return t
		}
	}
	return transaction.TypeUnknown
}

// Txn is the per-transaction pipeline context.
type Txn struct {
	Request  *iso8583.Message
	Response *iso8583.Message
	Record   *transaction.Record
	Channel  string

	// Processor selected by the routing stage.
	Processor Processor

	// shortCircuited marks that a pre-processing stage produced the terminal
	// response; remaining stages except audit are skipped.
	shortCircuited bool
	failedStage    string
}

// ShortCircuit installs a terminal response produced by stage.
func (t *Txn) ShortCircuit(stage string, response *iso8583.Message) {
	t.shortCircuited = true
	t.failedStage = stage
	t.Response = response
}

// ShortCircuited reports whether a stage ended the transaction early.
func (t *Txn) ShortCircuited() bool { return t.shortCircuited }

// FailedStage names the short-circuiting stage, empty otherwise.
func (t *Txn) FailedStage() string { return t.failedStage }

// NewTxn builds the pipeline context for an inbound request: mints a
// transactionId, derives the type, and protects the PAN before anything is
// persisted.
func NewTxn(msg *iso8583.Message, channel string, protector *pan.Protector) (*Txn, error) {
	now := time.Now()
	rec := &transaction.Record{
		TransactionID:  "TXN-" + uuid.NewString(),
		Type:           DeriveType(msg),
		ProcessingCode: msg.FieldN(iso8583.FieldProcessingCode),
		Currency:       msg.FieldN(iso8583.FieldCurrency),
		TerminalID:     msg.FieldN(iso8583.FieldTerminalID),
		MerchantID:     msg.FieldN(iso8583.FieldMerchantID),
		Stan:           msg.Stan(),
		Rrn:            msg.Rrn(),
		Channel:        channel,
		Status:         transaction.StatusPending,
		RequestedAt:    now,
		TransactionAt:  now,
	}

	if acq := msg.FieldN(iso8583.FieldAcquiringID); acq != "" {
		rec.AcquiringBankCode = acq
	}
	rec.SourceAccount = msg.FieldN(iso8583.FieldSourceAccount)
	rec.DestinationAccount = msg.FieldN(iso8583.FieldDestAccount)

	if amt := msg.FieldN(iso8583.FieldAmount); amt != "" {
		n, err := strconv.ParseInt(amt, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amt, err)
		}
		rec.Amount = n
	}

	if cleartext := msg.FieldN(iso8583.FieldPAN); cleartext != "" {
		rec.MaskedPAN = pan.Mask(cleartext)
		rec.PANHash = pan.Hash(cleartext)
		if protector != nil {
			encrypted, err := protector.Encrypt(cleartext)
			if err != nil {
				return nil, fmt.Errorf("encrypt pan: %w", err)
			}
			rec.EncryptedPAN = encrypted
		}
	}

	return &Txn{Request: msg, Record: rec, Channel: channel}, nil
}

// ResponseMTI derives the response MTI from a request MTI: the third digit
// is incremented (0200 -> 0210, 0400 -> 0410, 0800 -> 0810).
func ResponseMTI(requestMTI string) string {
	if len(requestMTI) != 4 {
		return requestMTI
	}
	b := []byte(requestMTI)
	b[2]++
	return string(b)
}

// BuildResponse assembles a response echoing the request's key fields with
// the given response code.
func BuildResponse(req *iso8583.Message, code string) *iso8583.Message {
	resp := iso8583.NewMessage(ResponseMTI(req.MTI))
	for _, tag := range []int{
		iso8583.FieldProcessingCode,
		iso8583.FieldAmount,
		iso8583.FieldStan,
		iso8583.FieldRrn,
		iso8583.FieldTerminalID,
		iso8583.FieldCurrency,
	} {
		if v := req.FieldN(tag); v != "" {
			resp.SetN(tag, v)
		}
	}
	resp.SetN(iso8583.FieldResponseCode, code)
	return resp
}
