package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmercadal/pairvault/internal/domain"
	"github.com/jmercadal/pairvault/internal/service"
)

// MatchService defines the methods the interest handler requires from the
// service layer.
type MatchService interface {
	ExpressInterest(ctx context.Context, from, to domain.Identity) (service.InterestResult, error)
	GetMatch(ctx context.Context, a, b domain.Identity) (domain.Match, error)
	ListMatches(ctx context.Context, p domain.Identity, opts domain.ListOpts) ([]domain.Match, error)
}

// InterestHandler serves interest and match HTTP endpoints.
type InterestHandler struct {
	matches MatchService
	logger  *slog.Logger
}

// NewInterestHandler creates an InterestHandler with the given service and logger.
func NewInterestHandler(matches MatchService, logger *slog.Logger) *InterestHandler {
	return &InterestHandler{
		matches: matches,
		logger:  logger,
	}
}

type expressInterestRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ExpressInterest records an interest signal and reports whether the pair is
// now matched.
// POST /api/interest
func (h *InterestHandler) ExpressInterest(w http.ResponseWriter, r *http.Request) {
	var req expressInterestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	res, err := h.matches.ExpressInterest(r.Context(), domain.Identity(req.From), domain.Identity(req.To))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSelfInterest):
			writeError(w, http.StatusBadRequest, "cannot express interest in self")
		case errors.Is(err, domain.ErrUnknownIdentity):
			writeError(w, http.StatusForbidden, "unknown or blocked identity")
		case errors.Is(err, domain.ErrCooldownActive):
			writeError(w, http.StatusTooManyRequests, "cooldown active")
		case errors.Is(err, domain.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "rate limited")
		default:
			h.logger.ErrorContext(r.Context(), "handler: express interest failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to record interest")
		}
		return
	}

	body := map[string]any{"matched": res.Matched}
	if res.Matched {
		body["match"] = matchJSON(res.Match)
	}
	writeJSON(w, http.StatusOK, body)
}

// GetPairMatch returns the match for an identity pair, if realized.
// GET /api/matches/pair?a=...&b=...
func (h *InterestHandler) GetPairMatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a, b := q.Get("a"), q.Get("b")
	if a == "" || b == "" {
		writeError(w, http.StatusBadRequest, "a and b query parameters required")
		return
	}

	m, err := h.matches.GetMatch(r.Context(), domain.Identity(a), domain.Identity(b))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "pair not matched")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get match failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get match")
		return
	}

	writeJSON(w, http.StatusOK, matchJSON(m))
}

// ListMatches returns matches involving a party.
// GET /api/matches?party=...&limit=50&offset=0
func (h *InterestHandler) ListMatches(w http.ResponseWriter, r *http.Request) {
	party := r.URL.Query().Get("party")
	if party == "" {
		writeError(w, http.StatusBadRequest, "party query parameter required")
		return
	}

	out, err := h.matches.ListMatches(r.Context(), domain.Identity(party), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list matches failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list matches")
		return
	}

	matches := make([]map[string]any, 0, len(out))
	for _, m := range out {
		matches = append(matches, matchJSON(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func matchJSON(m domain.Match) map[string]any {
	return map[string]any{
		"pair_id":     m.PairID,
		"party_a":     string(m.PartyA),
		"party_b":     string(m.PartyB),
		"treasury_id": m.TreasuryID,
		"fee":         m.Fee,
		"reward":      m.Reward,
		"matched_at":  m.MatchedAt,
	}
}
