// Package httpapi serves the event listing as read-only JSON.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/user/stagepass/internal/chain"
	"github.com/user/stagepass/internal/clock"
	"github.com/user/stagepass/internal/timing"
	"github.com/user/stagepass/internal/types"
)

// Listing is the event data the server exposes.
type Listing interface {
	Events(ctx context.Context) ([]types.EventRecord, error)
	Event(ctx context.Context, index uint64) (types.EventRecord, error)
	UserTickets(ctx context.Context, user common.Address) ([]types.TicketRecord, error)
}

// Server is a lightweight HTTP handler for the listing endpoints.
type Server struct {
	listing  Listing
	receipts types.ReceiptJournal
	clock    clock.Clock
	mux      *http.ServeMux
}

// NewServer creates a Server. receipts may be nil, in which case
// /api/receipts reports 503.
func NewServer(listing Listing, receipts types.ReceiptJournal, clk clock.Clock) *Server {
	if clk == nil {
		clk = clock.NewSystem()
	}
	s := &Server{
		listing:  listing,
		receipts: receipts,
		clock:    clk,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/events/{index}", s.handleEvent)
	s.mux.HandleFunc("GET /api/tickets/{address}", s.handleTickets)
	s.mux.HandleFunc("GET /api/receipts", s.handleReceipts)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// eventResponse adds the countdown to an event record.
type eventResponse struct {
	types.EventRecord
	RemainingTickets uint32 `json:"remaining_tickets"`
	// SecondsRemaining counts down to the start while upcoming and to the
	// end while live. Omitted once completed.
	SecondsRemaining *int64 `json:"seconds_remaining,omitempty"`
}

func (s *Server) toResponse(ev types.EventRecord, now time.Time) eventResponse {
	out := eventResponse{EventRecord: ev, RemainingTickets: ev.Remaining()}
	if d, ok := timing.Remaining(now, ev.StartTime, ev.DurationMinutes); ok {
		secs := int64(d / time.Second)
		out.SecondsRemaining = &secs
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.listing.Events(r.Context())
	if err != nil {
		s.chainError(w, "list events failed", err)
		return
	}

	if p := r.URL.Query().Get("phase"); p != "" {
		filtered := events[:0:0]
		for _, ev := range events {
			if string(ev.Phase) == p {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}

	now := s.clock.Now()
	result := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		result = append(result, s.toResponse(ev, now))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(r.PathValue("index"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "event index must be a non-negative integer")
		return
	}

	ev, err := s.listing.Event(r.Context(), index)
	if err != nil {
		if errors.Is(err, chain.ErrCallReverted) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		s.chainError(w, "read event failed", err)
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(ev, s.clock.Now()))
}

func (s *Server) handleTickets(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("address")
	if !common.IsHexAddress(addr) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	tickets, err := s.listing.UserTickets(r.Context(), common.HexToAddress(addr))
	if err != nil {
		s.chainError(w, "list tickets failed", err)
		return
	}
	if tickets == nil {
		tickets = []types.TicketRecord{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request) {
	if s.receipts == nil {
		writeError(w, http.StatusServiceUnavailable, "receipt journal not configured")
		return
	}
	receipts, err := s.receipts.List(r.Context())
	if err != nil {
		slog.Error("list receipts failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

func (s *Server) chainError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	switch {
	case errors.Is(err, chain.ErrChainUnavailable):
		writeError(w, http.StatusBadGateway, "chain unavailable")
	case errors.Is(err, chain.ErrDecode):
		writeError(w, http.StatusBadGateway, "unexpected contract response")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
