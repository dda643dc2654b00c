package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	if !s.engine.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "starting", "ready": false})
		return
	}
	cb := s.engine.Breaker()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"ready":              true,
		"placement_paused":   !cb.IsOpen(s.now()),
		"breaker_reason":     cb.TriggeredReason,
		"breaker_total_pnl":  cb.TotalPnL,
		"consecutive_losses": cb.ConsecutiveLosses,
	})
}

// GET /api/settings
func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.LoadSettings(r.Context())
	if errors.Is(err, domain.ErrNotFound) {
		settings, err = domain.DefaultSettings(), nil
	}
	if err != nil {
		s.log.Error("httpapi: load settings failed", "err", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// PUT /api/settings
//
// Fields missing from the body keep their current value. Changes apply on the
// next engine tick.
func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	current, err := s.store.LoadSettings(r.Context())
	if errors.Is(err, domain.ErrNotFound) {
		current, err = domain.DefaultSettings(), nil
	}
	if err != nil {
		s.log.Error("httpapi: load settings failed", "err", err)
		writeDomainError(w, err)
		return
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&current); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid settings body: "+err.Error())
		return
	}
	if err := current.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}
	current.UpdatedAt = s.now().UTC()
	if err := s.store.SaveSettings(r.Context(), current); err != nil {
		s.log.Error("httpapi: save settings failed", "err", err)
		writeDomainError(w, err)
		return
	}
	s.log.Info("httpapi: settings updated", "auto_place", current.AutoPlace, "assets", current.Assets)
	writeJSON(w, http.StatusOK, current)
}

// GET /api/markets
//
// The eligible markets of the last scan with the active pairs placed on each.
func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	active, err := s.store.ActivePairs(r.Context())
	if err != nil {
		s.log.Error("httpapi: active pairs failed", "err", err)
		writeDomainError(w, err)
		return
	}
	byCondition := make(map[string][]pairView)
	for _, p := range active {
		byCondition[p.ConditionID] = append(byCondition[p.ConditionID], newPairView(p))
	}

	markets := s.engine.Markets()
	out := make([]marketView, 0, len(markets))
	for _, m := range markets {
		pairs := byCondition[m.ConditionID]
		if pairs == nil {
			pairs = []pairView{}
		}
		out = append(out, marketView{
			ConditionID: m.ConditionID,
			Asset:       m.Asset,
			Question:    m.Question,
			EndDate:     m.EndDate,
			MinutesLeft: m.MinutesUntil(s.now()),
			YesMid:      m.Yes.Mid,
			NoMid:       m.No.Mid,
			MidSum:      m.Yes.Mid.Add(m.No.Mid),
			Pairs:       pairs,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": out, "count": len(out)})
}

// GET /api/pairs?status=Matched&limit=50&offset=0
func (s *Server) listPairs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	f := domain.PairFilter{Limit: limit, Offset: offset}
	for _, raw := range r.URL.Query()["status"] {
		st, err := domain.ParsePairStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		f.Statuses = append(f.Statuses, st)
	}

	pairs, err := s.store.ListPairs(r.Context(), f)
	if err != nil {
		s.log.Error("httpapi: list pairs failed", "err", err)
		writeDomainError(w, err)
		return
	}
	views := make([]pairView, 0, len(pairs))
	for _, p := range pairs {
		views = append(views, newPairView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"pairs": views, "limit": limit, "offset": offset})
}

type pairDetail struct {
	Pair      pairView `json:"pair"`
	LatestLog *logView `json:"latest_log,omitempty"`
}

// actionConflict is the 409 body of a refused operator action.
type actionConflict struct {
	errorResponse
	pairDetail
}

func (s *Server) detail(r *http.Request, p domain.Pair) pairDetail {
	out := pairDetail{Pair: newPairView(p)}
	if entry, err := s.store.LatestLog(r.Context(), p.ID); err == nil {
		v := newLogView(entry)
		out.LatestLog = &v
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.log.Warn("httpapi: latest log failed", "pair", p.ID, "err", err)
	}
	return out
}

// GET /api/pairs/{id}
func (s *Server) getPair(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPair(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.detail(r, p))
}

// writeActionError reports a refused action together with the pair's current
// state so the operator sees why.
func (s *Server) writeActionError(w http.ResponseWriter, r *http.Request, id string, err error) {
	if !errors.Is(err, domain.ErrPrecondition) && !errors.Is(err, domain.ErrInvalidTransition) {
		writeDomainError(w, err)
		return
	}
	p, gerr := s.store.GetPair(r.Context(), id)
	if gerr != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusConflict, actionConflict{
		errorResponse: errorResponse{Error: "precondition_failed", Message: err.Error()},
		pairDetail:    s.detail(r, p),
	})
}

// POST /api/pairs/{id}/cancel
func (s *Server) cancelPair(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.engine.RequestCancel(r.Context(), id)
	if err != nil {
		s.writeActionError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newPairView(p))
}

// POST /api/pairs/{id}/merge
func (s *Server) rearmMerge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.engine.RearmMerge(r.Context(), id)
	if err != nil {
		s.writeActionError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newPairView(p))
}

// GET /api/log?pair_id=&kind=&limit=&offset=
func (s *Server) listLog(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	q := r.URL.Query()
	entries, err := s.store.ListLog(r.Context(), domain.LogFilter{
		PairID: q.Get("pair_id"),
		Kind:   domain.LogKind(q.Get("kind")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.log.Error("httpapi: list log failed", "err", err)
		writeDomainError(w, err)
		return
	}
	views := make([]logView, 0, len(entries))
	for _, e := range entries {
		views = append(views, newLogView(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": views, "limit": limit, "offset": offset})
}

// GET /api/stats
func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}
