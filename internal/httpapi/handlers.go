package httpapi

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rostrumdev/rostrum/internal/auction"
	"github.com/rostrumdev/rostrum/internal/ledger"
	"github.com/rostrumdev/rostrum/internal/snapshot"
	"github.com/rostrumdev/rostrum/internal/store"
)

type bidRequest struct {
	Team   string `json:"team"`
	Amount int    `json:"amount"`
}

type stageRequest struct {
	PlayerID string `json:"player_id"`
	Team     string `json:"team"`
	Amount   int    `json:"amount"`
}

type withdrawRequest struct {
	PlayerID string `json:"player_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// rejectionResponse is the 422 payload for a refused bid or stage. Code
// names the failed rule; Nearest and Limit carry the correction hints.
type rejectionResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Team    string `json:"team"`
	Amount  int    `json:"amount"`
	Nearest int    `json:"nearest,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type exportResponse struct {
	AuctionID string         `json:"auction_id"`
	Entries   []ledger.Entry `json:"entries"`
}

type playersResponse struct {
	Players []auction.PlayerView `json:"players"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var setup auction.Setup
	if err := json.NewDecoder(r.Body).Decode(&setup); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding import payload: %v", err))
		return
	}

	v, err := s.manager.Create(r.Context(), setup)
	if errors.Is(err, auction.ErrExists) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	v, err := s.manager.Resume(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	v, err := s.manager.View(chi.URLParam(r, "auctionID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding bid: %v", err))
		return
	}

	v, err := s.manager.Bid(r.Context(), chi.URLParam(r, "auctionID"), req.Team, req.Amount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleUnsold(w http.ResponseWriter, r *http.Request) {
	v, err := s.manager.MarkUnsold(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	v, err := s.manager.Undo(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	var req stageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding stage: %v", err))
		return
	}

	v, err := s.manager.Stage(r.Context(), chi.URLParam(r, "auctionID"), req.PlayerID, req.Team, req.Amount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding withdraw: %v", err))
		return
	}

	v, err := s.manager.Withdraw(r.Context(), chi.URLParam(r, "auctionID"), req.PlayerID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	v, err := s.manager.ConfirmDistribution(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	players, err := s.manager.SearchPlayers(chi.URLParam(r, "auctionID"), r.URL.Query().Get("q"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if players == nil {
		players = []auction.PlayerView{}
	}
	writeJSON(w, http.StatusOK, playersResponse{Players: players})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")
	entries, err := s.manager.Export(auctionID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		writeJSON(w, http.StatusOK, exportResponse{AuctionID: auctionID, Entries: entries})
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(http.StatusOK)
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"round", "attempt", "timestamp", "player_id", "category", "team", "amount", "status"})
		for _, e := range entries {
			_ = cw.Write([]string{
				strconv.Itoa(e.Round),
				strconv.Itoa(e.Attempt),
				e.Timestamp.UTC().Format(time.RFC3339),
				e.PlayerID,
				e.Category,
				e.Team,
				strconv.Itoa(e.Amount),
				string(e.Status),
			})
		}
		cw.Flush()
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown export format %q", format))
	}
}

// handleObserve upgrades to a websocket. Auctions hosted by this process
// stream straight from the manager's pushes; anything else is followed
// through the stores, priming the hub with the latest persisted snapshot.
func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")

	var loaded *snapshot.Snapshot
	if _, err := s.manager.View(auctionID); err != nil {
		if s.loader == nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		snap, loadErr := s.loader.Get(r.Context(), auctionID)
		if loadErr != nil {
			s.writeDomainError(w, loadErr)
			return
		}
		if subErr := s.feed.EnsureSubscribed(context.WithoutCancel(r.Context()), auctionID); subErr != nil {
			s.writeDomainError(w, subErr)
			return
		}
		s.feed.Offer(snap)
		loaded = snap
	}

	if err := s.hub.Serve(w, r, auctionID); err != nil {
		s.logger.WarnContext(r.Context(), "observer join failed",
			slog.String("auction_id", auctionID),
			slog.Any("error", err),
		)
		return
	}

	// The hub keeps no view for an auction that completed with nobody
	// watching; render one so the connection that just joined still gets
	// its frame.
	if !s.hub.HasView(auctionID) {
		snap := loaded
		if snap == nil {
			var err error
			if snap, err = s.manager.Snapshot(auctionID); err != nil {
				s.logger.WarnContext(r.Context(), "rendering join view failed",
					slog.String("auction_id", auctionID),
					slog.Any("error", err),
				)
				return
			}
		}
		s.hub.Render(snap)
	}
}

// writeDomainError maps manager errors onto the wire: refused amounts are
// 422 with correction metadata, missing things are 404, state conflicts
// are 409, and anything unexpected is a logged 500.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var rej *auction.Rejection
	switch {
	case errors.As(err, &rej):
		writeJSON(w, http.StatusUnprocessableEntity, rejectionResponse{
			Error:   rej.Error(),
			Code:    rej.Code(),
			Team:    rej.Team,
			Amount:  rej.Amount,
			Nearest: rej.Nearest,
			Limit:   rej.Limit,
		})
	case errors.Is(err, store.ErrNoSnapshot):
		writeError(w, http.StatusNotFound, fmt.Sprintf("%v: start fresh or provide a valid id", err))
	case errors.Is(err, auction.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, auction.ErrUnknownTeam), errors.Is(err, auction.ErrUnknownPlayer):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, auction.ErrComplete),
		errors.Is(err, auction.ErrNothingToUndo),
		errors.Is(err, auction.ErrDistributionClosed),
		errors.Is(err, auction.ErrTeamIneligible),
		errors.Is(err, auction.ErrPlayerFrozen),
		errors.Is(err, auction.ErrAlreadyStaged),
		errors.Is(err, auction.ErrNotStaged),
		errors.Is(err, auction.ErrNothingStaged):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, snapshot.ErrMalformed):
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.logger.Error("request failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
