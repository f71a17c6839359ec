// Package gateway turns inbound channel traffic into pipeline executions.
// It is the glue between the endpoint layer, which speaks framed ISO-8583,
// and the transaction pipeline, which speaks Txn records.
package gateway

import (
	"context"

	"github.com/nexuspay/fepgate/internal/endpoint"
	"github.com/nexuspay/fepgate/internal/iso8583"
	"github.com/nexuspay/fepgate/internal/logger"
	"github.com/nexuspay/fepgate/internal/pan"
	"github.com/nexuspay/fepgate/internal/pipeline"
)

// Gateway serves inbound requests from every managed channel.
type Gateway struct {
	pipeline  *pipeline.Pipeline
	protector *pan.Protector
}

// New builds a gateway over the pipeline. protector may be nil when PAN
// encryption at rest is not configured; masking and hashing still apply.
func New(p *pipeline.Pipeline, protector *pan.Protector) *Gateway {
	return &Gateway{pipeline: p, protector: protector}
}

// Handler returns the endpoint.Handler the connection manager hands to every
// endpoint it creates.
func (g *Gateway) Handler() endpoint.Handler {
	return g.handle
}

func (g *Gateway) handle(ctx context.Context, channelID string, msg *iso8583.Message) *iso8583.Message {
	if msg == nil {
		return nil
	}
	ctx = logger.WithContext(ctx,
		logger.NewLogContext(channelID, "").WithMessage(msg.MTI, msg.Stan()))

	if len(msg.MTI) == 4 && msg.MTI[1] == '8' {
		return g.handleNetMgmt(ctx, msg)
	}

	txn, err := pipeline.NewTxn(msg, channelID, g.protector)
	if err != nil {
		logger.WarnCtx(ctx, "Rejecting malformed request", logger.KeyError, err.Error())
		return pipeline.BuildResponse(msg, pipeline.RespFormatError)
	}

	resp, err := g.pipeline.Execute(ctx, txn)
	if err != nil {
		// The response is still valid; the audit row may not be. Escalate in
		// the log and keep serving.
		logger.ErrorCtx(ctx, "Audit persistence failed after response",
			logger.KeyTransactionID, txn.Record.TransactionID,
			logger.KeyError, err.Error())
	}
	return resp
}

// handleNetMgmt acknowledges sign-on, sign-off, and echo probes. Unknown
// field-70 codes are declined so a misconfigured peer notices.
func (g *Gateway) handleNetMgmt(ctx context.Context, msg *iso8583.Message) *iso8583.Message {
	code := msg.FieldN(iso8583.FieldNetMgmtCode)
	resp := iso8583.NewMessage(pipeline.ResponseMTI(msg.MTI))
	if stan := msg.Stan(); stan != "" {
		resp.SetN(iso8583.FieldStan, stan)
	}
	if code != "" {
		resp.SetN(iso8583.FieldNetMgmtCode, code)
	}

	switch code {
	case endpoint.NetMgmtSignOn, endpoint.NetMgmtSignOff, endpoint.NetMgmtEcho:
		resp.SetN(iso8583.FieldResponseCode, pipeline.RespApproved)
		logger.DebugCtx(ctx, "Network management acknowledged", "code", code)
	default:
		resp.SetN(iso8583.FieldResponseCode, pipeline.RespInvalidTxn)
		logger.WarnCtx(ctx, "Unknown network management code", "code", code)
	}
	return resp
}
