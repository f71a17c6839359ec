package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nexuspay/fepgate/internal/iso8583"
	"github.com/nexuspay/fepgate/internal/logger"
	"github.com/nexuspay/fepgate/internal/pan"
	"github.com/nexuspay/fepgate/pkg/store/transaction"
)

// ReversalService reverses a previously processed transaction by driving a
// 0400 message through the pipeline.
type ReversalService struct {
	repo      transaction.Repository
	pipeline  *Pipeline
	protector *pan.Protector

	stanSeq atomic.Uint64
}

// NewReversalService wires the service. protector may be nil when records
// carry no PAN.
func NewReversalService(repo transaction.Repository, p *Pipeline, protector *pan.Protector) *ReversalService {
	s := &ReversalService{repo: repo, pipeline: p, protector: protector}
	s.stanSeq.Store(uint64(time.Now().UnixNano() % 1_000_000))
	return s
}

// nextStan mints a STAN for service-originated reversal messages so the
// dedup stage never collides them with the original.
func (s *ReversalService) nextStan() string {
	return fmt.Sprintf("%06d", s.stanSeq.Add(1)%1_000_000)
}

// Reverse locates the original transaction, runs a reversal through the
// pipeline, and transitions the original to REVERSED. Fails with
// ErrNotReversible when the original's status does not allow reversal.
func (s *ReversalService) Reverse(ctx context.Context, originalID, reason string) (*transaction.Record, error) {
	original, err := s.repo.FindOriginalForReversal(ctx, originalID)
	if err != nil {
		return nil, err
	}

	msg := iso8583.NewMessage("0400").
		SetN(iso8583.FieldProcessingCode, original.ProcessingCode).
		SetN(iso8583.FieldStan, s.nextStan()).
		SetN(iso8583.FieldRrn, original.Rrn).
		SetN(iso8583.FieldTerminalID, original.TerminalID).
		// Field 90: original data elements (MTI + STAN + transmission time).
		SetN(iso8583.FieldOriginalData, fmt.Sprintf("0200%s%s", original.Stan, original.RequestedAt.Format("0102150405")))
	if original.Amount > 0 {
		msg.SetN(iso8583.FieldAmount, fmt.Sprintf("%012d", original.Amount))
	}
	if original.Currency != "" {
		msg.SetN(iso8583.FieldCurrency, original.Currency)
	}

	txn, err := NewTxn(msg, original.Channel, s.protector)
	if err != nil {
		return nil, err
	}
	txn.Record.OriginalTransactionID = originalID
	txn.Record.MaskedPAN = original.MaskedPAN
	txn.Record.PANHash = original.PANHash
	txn.Record.EncryptedPAN = original.EncryptedPAN
	if reason != "" {
		txn.Record.ErrorDetails = "reversal reason: " + reason
	}

	logger.InfoCtx(ctx, "Reversing transaction",
		logger.KeyTransactionID, txn.Record.TransactionID,
		"original_transaction_id", originalID,
		"reason", reason)

	resp, err := s.pipeline.Execute(ctx, txn)
	if err != nil {
		return nil, err
	}
	if code := resp.FieldN(iso8583.FieldResponseCode); code != RespApproved {
		return txn.Record, fmt.Errorf("reversal of %s declined with code %s", originalID, code)
	}
	return txn.Record, nil
}
