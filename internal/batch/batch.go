// Package batch drives sets of transactions through the pipeline with
// bounded concurrency, used for file-based clearing submissions and
// replaying spooled requests after an outage.
package batch

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nexuspay/fepgate/internal/iso8583"
	"github.com/nexuspay/fepgate/internal/logger"
	"github.com/nexuspay/fepgate/internal/pan"
	"github.com/nexuspay/fepgate/internal/pipeline"
)

// DefaultConcurrency bounds parallel pipeline executions per batch.
const DefaultConcurrency = 8

// Item pairs one request with its outcome.
type Item struct {
	Request       *iso8583.Message
	Response      *iso8583.Message
	TransactionID string
	Err           error
}

// Result summarizes a processed batch. Items keep submission order.
type Result struct {
	Items    []Item
	Approved int
	Declined int
	Failed   int
}

// Runner executes batches against a pipeline.
type Runner struct {
	pipeline    *pipeline.Pipeline
	protector   *pan.Protector
	channel     string
	concurrency int
}

// NewRunner creates a batch runner. concurrency <= 0 selects the default.
func NewRunner(p *pipeline.Pipeline, protector *pan.Protector, channel string, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Runner{
		pipeline:    p,
		protector:   protector,
		channel:     channel,
		concurrency: concurrency,
	}
}

// Run processes every message. Individual transaction failures are recorded
// per item and do not abort the batch; only context cancellation stops it
// early.
func (r *Runner) Run(ctx context.Context, requests []*iso8583.Message) (*Result, error) {
	result := &Result{Items: make([]Item, len(requests))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			item := Item{Request: req}
			txn, err := pipeline.NewTxn(req, r.channel, r.protector)
			if err != nil {
				item.Err = err
			} else {
				item.TransactionID = txn.Record.TransactionID
				item.Response, item.Err = r.pipeline.Execute(gctx, txn)
			}

			mu.Lock()
			result.Items[i] = item
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	for _, item := range result.Items {
		switch {
		case item.Err != nil || item.Response == nil:
			result.Failed++
		case item.Response.FieldN(iso8583.FieldResponseCode) == pipeline.RespApproved:
			result.Approved++
		default:
			result.Declined++
		}
	}

	logger.Info("Batch processed",
		"total", len(result.Items),
		"approved", result.Approved,
		"declined", result.Declined,
		"failed", result.Failed)
	return result, nil
}
