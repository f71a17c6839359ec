package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/nexuspay/fepgate/internal/iso8583"
	"github.com/nexuspay/fepgate/internal/logger"
	"github.com/nexuspay/fepgate/internal/validation"
	"github.com/nexuspay/fepgate/pkg/metrics"
	"github.com/nexuspay/fepgate/pkg/store/transaction"
)

// Pipeline drives a transaction through the stage chain and audits every
// outcome. The audit stage is not part of the chain: it runs on every path,
// including short circuits and stage failures.
type Pipeline struct {
	stages  []Stage
	repo    transaction.Repository
	metrics metrics.TransactionMetrics
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithMetrics attaches transaction metrics.
func WithMetrics(m metrics.TransactionMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithStages replaces the default stage chain.
func WithStages(stages ...Stage) Option {
	return func(p *Pipeline) { p.stages = stages }
}

// New assembles the default pipeline: duplicate check, validation, routing,
// processing. engine may be nil to skip validation.
func New(repo transaction.Repository, router *Router, engine *validation.Engine, dedupWindow time.Duration, opts ...Option) *Pipeline {
	p := &Pipeline{
		repo: repo,
		stages: []Stage{
			NewDuplicateStage(repo, dedupWindow),
			NewValidationStage(engine),
			NewRoutingStage(router),
			NewProcessingStage(),
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute runs one transaction. The returned response is always non-nil:
// every inbound request yields exactly one response. The returned error
// reports audit-stage persistence failures, which the caller must escalate
// because the stored record may be inconsistent.
func (p *Pipeline) Execute(ctx context.Context, txn *Txn) (*iso8583.Message, error) {
	start := time.Now()
	if p.metrics != nil {
		p.metrics.RecordInFlight(1)
		defer p.metrics.RecordInFlight(-1)
	}

	for _, stage := range p.stages {
		if txn.ShortCircuited() {
			break
		}
		if err := stage.Run(ctx, txn); err != nil {
			p.failStage(ctx, txn, stage.Name(), err)
			break
		}
	}

	if txn.Response == nil {
		// A processor returned neither response nor error. Treat as a system
		// error so the peer is never left hanging.
		logger.ErrorCtx(ctx, "Pipeline produced no response",
			logger.KeyTransactionID, txn.Record.TransactionID)
		txn.ShortCircuit(StageProcessing, BuildResponse(txn.Request, RespSystemError))
	}

	auditErr := p.audit(ctx, txn, start)
	return txn.Response, auditErr
}

// failStage converts a stage failure into a terminal response.
func (p *Pipeline) failStage(ctx context.Context, txn *Txn, stage string, err error) {
	code := RespSystemError
	var procErr *ProcessorError
	switch {
	case errors.As(err, &procErr):
		code = procErr.Code
	case errors.Is(err, context.DeadlineExceeded):
		code = RespTimeout
	}

	logger.ErrorCtx(ctx, "Pipeline stage failed",
		logger.KeyTransactionID, txn.Record.TransactionID,
		logger.KeyStage, stage,
		logger.KeyResponseCode, code,
		logger.KeyError, err.Error())

	txn.Record.ErrorDetails = err.Error()
	txn.ShortCircuit(stage, BuildResponse(txn.Request, code))
}

// audit persists the final record and emits the audit log line. It always
// runs, whatever path the transaction took.
func (p *Pipeline) audit(ctx context.Context, txn *Txn, start time.Time) error {
	rec := txn.Record
	respCode := txn.Response.FieldN(iso8583.FieldResponseCode)
	rec.ResponseCode = respCode
	rec.RespondedAt = time.Now()
	rec.ProcessingTimeMs = rec.RespondedAt.Sub(rec.RequestedAt).Milliseconds()

	final := finalStatus(txn, respCode)
	if err := rec.TransitionTo(final); err != nil {
		// An illegal transition here is a pipeline defect; log it and store
		// the record in its current state rather than losing the audit row.
		logger.ErrorCtx(ctx, "Illegal status transition at audit",
			logger.KeyTransactionID, rec.TransactionID,
			logger.KeyError, err.Error())
	}

	if p.metrics != nil {
		p.metrics.RecordTransaction(string(rec.Type), string(rec.Status), time.Since(start))
		if txn.ShortCircuited() {
			p.metrics.RecordShortCircuit(txn.FailedStage())
		}
	}

	if err := p.repo.Save(ctx, rec); err != nil {
		logger.ErrorCtx(ctx, "Audit persistence failed",
			logger.KeyTransactionID, rec.TransactionID,
			logger.KeyError, err.Error())
		return err
	}

	logger.InfoCtx(ctx, "Transaction audited",
		logger.KeyTransactionID, rec.TransactionID,
		"type", string(rec.Type),
		logger.KeyStatus, string(rec.Status),
		logger.KeyResponseCode, respCode,
		logger.KeyStan, rec.Stan,
		logger.KeyDurationMs, rec.ProcessingTimeMs)
	return nil
}

// finalStatus maps the outcome to the record's terminal state.
func finalStatus(txn *Txn, respCode string) transaction.Status {
	if txn.ShortCircuited() {
		switch txn.FailedStage() {
		case StageDuplicateCheck:
			return transaction.StatusDeclined
		default:
			return transaction.StatusFailed
		}
	}
	switch respCode {
	case RespApproved:
		return transaction.StatusApproved
	case RespTimeout:
		return transaction.StatusTimeout
	default:
		return transaction.StatusDeclined
	}
}
