package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/nexuspay/fepgate/internal/logger"
	"github.com/nexuspay/fepgate/internal/validation"
	"github.com/nexuspay/fepgate/pkg/store/transaction"
)

// Stage is one step of the pipeline. A stage either passes the transaction
// through, short-circuits it with a terminal response, or fails hard.
type Stage interface {
	Name() string
	Run(ctx context.Context, txn *Txn) error
}

const (
	StageDuplicateCheck = "duplicate-check"
	StageValidation     = "validation"
	StageRouting        = "routing"
	StageProcessing     = "processing"
	StageAudit          = "audit"
)

// duplicateStage rejects resubmissions of the same (rrn, stan, terminal)
// within the dedup window.
type duplicateStage struct {
	repo   transaction.Repository
	window time.Duration
}

// NewDuplicateStage creates the dedup stage. A zero window disables it.
func NewDuplicateStage(repo transaction.Repository, window time.Duration) Stage {
	return &duplicateStage{repo: repo, window: window}
}

func (s *duplicateStage) Name() string { return StageDuplicateCheck }

func (s *duplicateStage) Run(ctx context.Context, txn *Txn) error {
	if s.window <= 0 {
		return nil
	}
	rec := txn.Record
	dup, err := s.repo.IsDuplicate(ctx, rec.Rrn, rec.Stan, rec.TerminalID, s.window)
	if err != nil {
		return fmt.Errorf("duplicate lookup: %w", err)
	}
	if dup {
		logger.WarnCtx(ctx, "Duplicate transaction rejected",
			logger.KeyTransactionID, rec.TransactionID,
			logger.KeyStan, rec.Stan,
			logger.KeyRrn, rec.Rrn)
		rec.ErrorDetails = "duplicate transaction within dedup window"
		txn.ShortCircuit(s.Name(), BuildResponse(txn.Request, RespDuplicate))
	}
	return nil
}

// validationStage runs the declared rule set against the request.
type validationStage struct {
	engine *validation.Engine
}

// NewValidationStage creates the validation stage. A nil engine passes
// everything.
func NewValidationStage(engine *validation.Engine) Stage {
	return &validationStage{engine: engine}
}

func (s *validationStage) Name() string { return StageValidation }

func (s *validationStage) Run(ctx context.Context, txn *Txn) error {
	if s.engine == nil {
		return nil
	}
	result := s.engine.Validate(txn.Request)
	if result.Valid {
		return nil
	}
	summary := result.Summary()
	logger.WarnCtx(ctx, "Validation failed",
		logger.KeyTransactionID, txn.Record.TransactionID,
		"violations", len(result.Errors),
		"summary", summary)
	txn.Record.ErrorDetails = summary
	txn.ShortCircuit(s.Name(), BuildResponse(txn.Request, RespFormatError))
	return nil
}

// routingStage selects the processor and moves the record to PROCESSING.
type routingStage struct {
	router *Router
}

// NewRoutingStage creates the routing stage.
func NewRoutingStage(router *Router) Stage {
	return &routingStage{router: router}
}

func (s *routingStage) Name() string { return StageRouting }

func (s *routingStage) Run(ctx context.Context, txn *Txn) error {
	p := s.router.Route(txn.Record.Type)
	if p == nil {
		logger.WarnCtx(ctx, "No processor for transaction type",
			logger.KeyTransactionID, txn.Record.TransactionID,
			"type", string(txn.Record.Type))
		txn.Record.ErrorDetails = fmt.Sprintf("no route for transaction type %s", txn.Record.Type)
		txn.ShortCircuit(s.Name(), BuildResponse(txn.Request, RespInvalidTxn))
		return nil
	}
	txn.Processor = p
	return txn.Record.TransitionTo(transaction.StatusProcessing)
}

// processingStage invokes the routed processor.
type processingStage struct{}

// NewProcessingStage creates the processing stage.
func NewProcessingStage() Stage {
	return &processingStage{}
}

func (s *processingStage) Name() string { return StageProcessing }

func (s *processingStage) Run(ctx context.Context, txn *Txn) error {
	resp, err := txn.Processor.Process(ctx, txn)
	if err != nil {
		return err
	}
	txn.Response = resp
	return nil
}
