package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nexuspay/fepgate/internal/endpoint"
	"github.com/nexuspay/fepgate/internal/pending"
	"github.com/nexuspay/fepgate/pkg/store/transaction"
)

// ChannelSummary is the list representation of one managed channel.
type ChannelSummary struct {
	ChannelID string `json:"channel_id"`
	State     string `json:"state"`
	Server    bool   `json:"server"`
	Pending   int    `json:"pending"`
	Clients   int    `json:"clients,omitempty"`
}

// ChannelDetail extends the summary with connection specifics.
type ChannelDetail struct {
	ChannelSummary

	Host         string                `json:"host,omitempty"`
	SendPort     int                   `json:"send_port,omitempty"`
	ReceivePort  int                   `json:"receive_port,omitempty"`
	UnifiedPort  int                   `json:"unified_port,omitempty"`
	DualChannel  bool                  `json:"dual_channel"`
	PendingStats pending.Stats         `json:"pending_stats"`
	ClientList   []endpoint.ClientInfo `json:"client_list,omitempty"`
}

func summarize(ep endpoint.Endpoint) ChannelSummary {
	s := ChannelSummary{
		ChannelID: ep.ChannelID(),
		State:     ep.State().String(),
		Server:    ep.IsServer(),
		Pending:   ep.Pending().PendingCount(),
	}
	if srv, ok := ep.(*endpoint.Server); ok {
		s.Clients = srv.ClientCount()
	}
	return s
}

// listChannels handles GET /api/v1/channels.
func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	ids := s.manager.ChannelIDs()
	out := make([]ChannelSummary, 0, len(ids))
	for _, id := range ids {
		if ep, ok := s.manager.Get(id); ok {
			out = append(out, summarize(ep))
		}
	}
	writeJSON(w, http.StatusOK, okResponse(out))
}

// getChannel handles GET /api/v1/channels/{id}.
func (s *Server) getChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ep, ok := s.manager.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse("channel not found"))
		return
	}

	cfg := ep.Config()
	detail := ChannelDetail{
		ChannelSummary: summarize(ep),
		Host:           cfg.Host,
		SendPort:       cfg.SendPort,
		ReceivePort:    cfg.ReceivePort,
		UnifiedPort:    cfg.UnifiedPort,
		DualChannel:    cfg.DualChannel,
		PendingStats:   ep.Pending().Stats(),
	}
	if srv, ok := ep.(*endpoint.Server); ok {
		detail.ClientList = srv.Clients()
	}
	writeJSON(w, http.StatusOK, okResponse(detail))
}

// reconnectChannel handles POST /api/v1/channels/{id}/reconnect.
func (s *Server) reconnectChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.Reconnect(r.Context(), id); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]string{"channel_id": id, "action": "reconnect"}))
}

// closeChannel handles POST /api/v1/channels/{id}/close.
func (s *Server) closeChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.manager.Get(id); !ok {
		writeJSON(w, http.StatusNotFound, errorResponse("channel not found"))
		return
	}
	if err := s.manager.Remove(r.Context(), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]string{"channel_id": id, "action": "close"}))
}

// getPendingStats handles GET /api/v1/pending/{channel}.
func (s *Server) getPendingStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "channel")
	ep, ok := s.manager.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse("channel not found"))
		return
	}
	writeJSON(w, http.StatusOK, okResponse(ep.Pending().Stats()))
}

// getTransaction handles GET /api/v1/transactions/{id}.
func (s *Server) getTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.repo.FindByTransactionID(r.Context(), id)
	if err != nil {
		if errors.Is(err, transaction.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse("transaction not found"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, okResponse(rec))
}

// liveness handles GET /health: the process is up.
func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{"service": "fepgate"}))
}

// readiness handles GET /health/ready: the gateway can take traffic when
// the store answers and no channel is stuck in a terminal failure.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	if s.repo != nil {
		probe := time.Now().UTC().Format("2006-01-02")
		if _, err := s.repo.CountByStatusAndDate(r.Context(), transaction.StatusApproved, probe); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("transaction store unreachable: "+err.Error()))
			return
		}
	}

	states := s.manager.States()
	failed := make([]string, 0)
	for id, st := range states {
		if st == endpoint.StateFailed {
			failed = append(failed, id)
		}
	}
	data := map[string]interface{}{
		"channels":        len(states),
		"failed_channels": failed,
	}
	if len(failed) == len(states) && len(states) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("all channels failed"))
		return
	}
	writeJSON(w, http.StatusOK, healthyResponse(data))
}
