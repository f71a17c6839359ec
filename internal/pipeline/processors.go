package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/nexuspay/fepgate/internal/iso8583"
	"github.com/nexuspay/fepgate/pkg/store/transaction"
)

// withdrawal limits in minor units.
const maxWithdrawalAmount = 6_000_000 // NT$60,000 per transaction

// approve stamps the record and builds the approval response.
func approve(txn *Txn) *iso8583.Message {
	code := authCode(txn.Record.TransactionID)
	txn.Record.AuthCode = code
	resp := BuildResponse(txn.Request, RespApproved)
	resp.SetN(iso8583.FieldAuthCode, code)
	return resp
}

// decline builds a decline response without an auth code.
func decline(txn *Txn, code string) *iso8583.Message {
	return BuildResponse(txn.Request, code)
}

// ---------------------------------------------------------------------------

type withdrawalProcessor struct{}

func NewWithdrawalProcessor() Processor { return &withdrawalProcessor{} }

func (p *withdrawalProcessor) Name() string { return "withdrawal" }

func (p *withdrawalProcessor) Supports(t transaction.Type) bool {
	return t == transaction.TypeWithdrawal
}

func (p *withdrawalProcessor) Process(_ context.Context, txn *Txn) (*iso8583.Message, error) {
	switch {
	case txn.Record.Amount <= 0:
		return decline(txn, RespInvalidAmount), nil
	case txn.Record.Amount > maxWithdrawalAmount:
		return decline(txn, RespDoNotHonor), nil
	}
	return approve(txn), nil
}

type cardlessWithdrawalProcessor struct{}

func NewCardlessWithdrawalProcessor() Processor { return &cardlessWithdrawalProcessor{} }

func (p *cardlessWithdrawalProcessor) Name() string { return "cardless-withdrawal" }

func (p *cardlessWithdrawalProcessor) Supports(t transaction.Type) bool {
	return t == transaction.TypeCardlessWithdrawal
}

func (p *cardlessWithdrawalProcessor) Process(_ context.Context, txn *Txn) (*iso8583.Message, error) {
	// Cardless flows identify the payee by reservation account, not PAN.
	if txn.Record.SourceAccount == "" {
		return nil, &ProcessorError{
			Processor: p.Name(),
			Code:      RespFormatError,
			Err:       errors.New("missing reservation account (field 102)"),
		}
	}
	if txn.Record.Amount <= 0 || txn.Record.Amount > maxWithdrawalAmount {
		return decline(txn, RespInvalidAmount), nil
	}
	return approve(txn), nil
}

type depositProcessor struct{}

func NewDepositProcessor() Processor { return &depositProcessor{} }

func (p *depositProcessor) Name() string { return "deposit" }

func (p *depositProcessor) Supports(t transaction.Type) bool {
	return t == transaction.TypeDeposit
}

func (p *depositProcessor) Process(_ context.Context, txn *Txn) (*iso8583.Message, error) {
	if txn.Record.Amount <= 0 {
		return decline(txn, RespInvalidAmount), nil
	}
	return approve(txn), nil
}

type transferProcessor struct{}

func NewTransferProcessor() Processor { return &transferProcessor{} }

func (p *transferProcessor) Name() string { return "transfer" }

func (p *transferProcessor) Supports(t transaction.Type) bool {
	return t == transaction.TypeTransfer
}

func (p *transferProcessor) Process(_ context.Context, txn *Txn) (*iso8583.Message, error) {
	if txn.Record.SourceAccount == "" || txn.Record.DestinationAccount == "" {
		return nil, &ProcessorError{
			Processor: p.Name(),
			Code:      RespFormatError,
			Err:       errors.New("transfer requires source and destination accounts"),
		}
	}
	if txn.Record.SourceAccount == txn.Record.DestinationAccount {
		return decline(txn, RespInvalidTxn), nil
	}
	if txn.Record.Amount <= 0 {
		return decline(txn, RespInvalidAmount), nil
	}
	return approve(txn), nil
}

type balanceInquiryProcessor struct{}

func NewBalanceInquiryProcessor() Processor { return &balanceInquiryProcessor{} }

func (p *balanceInquiryProcessor) Name() string { return "balance-inquiry" }

func (p *balanceInquiryProcessor) Supports(t transaction.Type) bool {
	return t == transaction.TypeBalanceInquiry
}

func (p *balanceInquiryProcessor) Process(_ context.Context, txn *Txn) (*iso8583.Message, error) {
	resp := approve(txn)
	// Field 54: account type + amount type 01 (ledger) + currency + sign +
	// 12-digit amount. The authorizing host owns the real figure; the
	// gateway echoes a zero ledger balance.
	resp.SetN(iso8583.FieldAdditionalData, fmt.Sprintf("0001%sC%012d", txn.Record.Currency, 0))
	return resp, nil
}

type reversalProcessor struct {
	repo transaction.Repository
}

// NewReversalProcessor handles 0400 messages. The original transaction is
// referenced either by the record's originalTransactionId (reversal service
// path) or by field 90 (wire path).
func NewReversalProcessor(repo transaction.Repository) Processor {
	return &reversalProcessor{repo: repo}
}

func (p *reversalProcessor) Name() string { return "reversal" }

func (p *reversalProcessor) Supports(t transaction.Type) bool {
	return t == transaction.TypeReversal
}

func (p *reversalProcessor) Process(ctx context.Context, txn *Txn) (*iso8583.Message, error) {
	originalID := txn.Record.OriginalTransactionID
	if originalID == "" {
		// Wire-originated reversal: locate the original by its rrn and stan
		// carried in field 90.
		orig, err := p.repo.FindByRrnAndStan(ctx, txn.Request.Rrn(), originalStan(txn.Request))
		if err != nil {
			return nil, &ProcessorError{
				Processor: p.Name(),
				Code:      RespInvalidTxn,
				Err:       fmt.Errorf("original transaction not found: %w", err),
			}
		}
		originalID = orig.TransactionID
		txn.Record.OriginalTransactionID = originalID
	}

	if err := p.repo.MarkAsReversed(ctx, originalID); err != nil {
		if errors.Is(err, transaction.ErrNotReversible) {
			return nil, &ProcessorError{Processor: p.Name(), Code: RespInvalidTxn, Err: err}
		}
		return nil, &ProcessorError{Processor: p.Name(), Code: RespSystemError, Err: err}
	}
	return approve(txn), nil
}

// originalStan extracts the original STAN from field 90 (original data
// elements: MTI + STAN + transmission timestamp), falling back to field 11.
func originalStan(msg *iso8583.Message) string {
	data := msg.FieldN(iso8583.FieldOriginalData)
	if len(data) >= 10 {
		return data[4:10]
	}
	return msg.Stan()
}

type p2pProcessor struct{}

func NewP2PProcessor() Processor { return &p2pProcessor{} }

func (p *p2pProcessor) Name() string { return "p2p" }

func (p *p2pProcessor) Supports(t transaction.Type) bool {
	return t == transaction.TypeP2P
}

func (p *p2pProcessor) Process(_ context.Context, txn *Txn) (*iso8583.Message, error) {
	if txn.Record.DestinationAccount == "" {
		return nil, &ProcessorError{
			Processor: p.Name(),
			Code:      RespFormatError,
			Err:       errors.New("p2p requires a destination account"),
		}
	}
	if txn.Record.Amount <= 0 {
		return decline(txn, RespInvalidAmount), nil
	}
	return approve(txn), nil
}

type billPaymentProcessor struct{}

func NewBillPaymentProcessor() Processor { return &billPaymentProcessor{} }

func (p *billPaymentProcessor) Name() string { return "bill-payment" }

func (p *billPaymentProcessor) Supports(t transaction.Type) bool {
	return t == transaction.TypeBillPayment
}

func (p *billPaymentProcessor) Process(_ context.Context, txn *Txn) (*iso8583.Message, error) {
	// The biller reference rides in the destination account field.
	if txn.Record.DestinationAccount == "" {
		return nil, &ProcessorError{
			Processor: p.Name(),
			Code:      RespFormatError,
			Err:       errors.New("bill payment requires a biller reference"),
		}
	}
	return approve(txn), nil
}

type eTicketTopUpProcessor struct{}

func NewETicketTopUpProcessor() Processor { return &eTicketTopUpProcessor{} }

func (p *eTicketTopUpProcessor) Name() string { return "eticket-topup" }

func (p *eTicketTopUpProcessor) Supports(t transaction.Type) bool {
	return t == transaction.TypeETicketTopUp
}

func (p *eTicketTopUpProcessor) Process(_ context.Context, txn *Txn) (*iso8583.Message, error) {
	// Stored-value cards cap single top-ups at NT$10,000.
	const maxTopUp = 1_000_000
	if txn.Record.Amount <= 0 || txn.Record.Amount > maxTopUp {
		return decline(txn, RespInvalidAmount), nil
	}
	return approve(txn), nil
}

type taiwanPayProcessor struct{}

func NewTaiwanPayProcessor() Processor { return &taiwanPayProcessor{} }

func (p *taiwanPayProcessor) Name() string { return "taiwan-pay" }

func (p *taiwanPayProcessor) Supports(t transaction.Type) bool {
	return t == transaction.TypeTaiwanPay
}

func (p *taiwanPayProcessor) Process(_ context.Context, txn *Txn) (*iso8583.Message, error) {
	if txn.Record.Amount <= 0 {
		return decline(txn, RespInvalidAmount), nil
	}
	return approve(txn), nil
}

type crossBorderProcessor struct{}

func NewCrossBorderProcessor() Processor { return &crossBorderProcessor{} }

func (p *crossBorderProcessor) Name() string { return "cross-border" }

func (p *crossBorderProcessor) Supports(t transaction.Type) bool {
	return t == transaction.TypeCrossBorder
}

func (p *crossBorderProcessor) Process(_ context.Context, txn *Txn) (*iso8583.Message, error) {
	if txn.Record.Currency == "" {
		return nil, &ProcessorError{
			Processor: p.Name(),
			Code:      RespFormatError,
			Err:       errors.New("cross-border payment requires a currency code"),
		}
	}
	if txn.Record.Amount <= 0 {
		return decline(txn, RespInvalidAmount), nil
	}
	return approve(txn), nil
}

type currencyExchangeProcessor struct{}

func NewCurrencyExchangeProcessor() Processor { return &currencyExchangeProcessor{} }

func (p *currencyExchangeProcessor) Name() string { return "currency-exchange" }

func (p *currencyExchangeProcessor) Supports(t transaction.Type) bool {
	return t == transaction.TypeCurrencyExchange
}

func (p *currencyExchangeProcessor) Process(_ context.Context, txn *Txn) (*iso8583.Message, error) {
	if txn.Record.Currency == "" || txn.Record.Amount <= 0 {
		return decline(txn, RespInvalidTxn), nil
	}
	return approve(txn), nil
}

type eWalletProcessor struct{}

func NewEWalletProcessor() Processor { return &eWalletProcessor{} }

func (p *eWalletProcessor) Name() string { return "ewallet" }

func (p *eWalletProcessor) Supports(t transaction.Type) bool {
	return t == transaction.TypeEWallet
}

func (p *eWalletProcessor) Process(_ context.Context, txn *Txn) (*iso8583.Message, error) {
	if txn.Record.Amount <= 0 {
		return decline(txn, RespInvalidAmount), nil
	}
	return approve(txn), nil
}

type networkProcessor struct{}

// NewNetworkProcessor answers 0800 network-management requests: sign-on,
// sign-off, and echo all acknowledge with code 00.
func NewNetworkProcessor() Processor { return &networkProcessor{} }

func (p *networkProcessor) Name() string { return "network-management" }

func (p *networkProcessor) Supports(t transaction.Type) bool {
	return t == transaction.TypeNetworkManagement
}

func (p *networkProcessor) Process(_ context.Context, txn *Txn) (*iso8583.Message, error) {
	code := txn.Request.FieldN(iso8583.FieldNetMgmtCode)
	switch code {
	case iso8583.NetMgmtSignOn, iso8583.NetMgmtSignOff, iso8583.NetMgmtEcho:
		resp := BuildResponse(txn.Request, RespApproved)
		resp.SetN(iso8583.FieldNetMgmtCode, code)
		return resp, nil
	default:
		return nil, &ProcessorError{
			Processor: p.Name(),
			Code:      RespInvalidTxn,
			Err:       fmt.Errorf("unknown network management code %q", code),
		}
	}
}
