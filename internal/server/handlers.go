package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"SatLedger/internal/core"
	"SatLedger/internal/event"
	"SatLedger/internal/ingestion"
	"SatLedger/internal/query"
	"SatLedger/internal/saturation"

	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

// classify maps an error to an HTTP status and a metric label.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ingestion.ErrInvalidCommand):
		return http.StatusBadRequest, "invalid_command"
	case errors.Is(err, errBadRequest), errors.Is(err, saturation.ErrInvalidIdentity):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, query.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrCoreStopped):
		return http.StatusServiceUnavailable, "core_stopped"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", errBadRequest, err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", errBadRequest, maxBodyBytes)
	}
	return body, nil
}

func accountParam(params map[string]string) (uuid.UUID, error) {
	id, err := uuid.Parse(params["account"])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: account: %v", errBadRequest, err)
	}
	return id, nil
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	return v, nil
}

// cursorQuery reads an optional pagination cursor.
func cursorQuery(r *http.Request, name string) (*int64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	return &v, nil
}

// ============================================================================
// Admin
// ============================================================================

// InjectResponse acknowledges a queued command. The core applies it
// asynchronously; the outcome lands in the event log.
type InjectResponse struct {
	Accepted       bool   `json:"accepted"`
	EventType      string `json:"event_type"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (s *Server) inject(t event.EventType) handlerFunc {
	return func(r *http.Request, _ map[string]string) (int, interface{}, error) {
		body, err := readBody(r)
		if err != nil {
			return 0, nil, err
		}
		evt, err := s.deps.Ingest.Inject(r.Context(), t, body)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusAccepted, InjectResponse{
			Accepted:       true,
			EventType:      evt.EventType().String(),
			IdempotencyKey: evt.IdempotencyKey(),
		}, nil
	}
}

func (s *Server) integrity(r *http.Request, _ map[string]string) (int, interface{}, error) {
	report, err := s.deps.Query.VerifyIntegrity(r.Context())
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, report, nil
}

// ============================================================================
// Projections
// ============================================================================

func (s *Server) accountPenalties(r *http.Request, params map[string]string) (int, interface{}, error) {
	account, err := accountParam(params)
	if err != nil {
		return 0, nil, err
	}
	recent, err := intQuery(r, "claims", 10)
	if err != nil {
		return 0, nil, err
	}
	resp, err := s.deps.Query.GetAccountPenalties(r.Context(), account, recent)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, resp, nil
}

func (s *Server) accountClaims(r *http.Request, params map[string]string) (int, interface{}, error) {
	account, err := accountParam(params)
	if err != nil {
		return 0, nil, err
	}
	limit, err := intQuery(r, "limit", 100)
	if err != nil {
		return 0, nil, err
	}
	before, err := cursorQuery(r, "before_sequence")
	if err != nil {
		return 0, nil, err
	}
	claims, err := s.deps.Query.GetClaimHistory(r.Context(), account, limit, before)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]interface{}{"claims": claims}, nil
}

func (s *Server) listAccruals(r *http.Request, _ map[string]string) (int, interface{}, error) {
	limit, err := intQuery(r, "limit", 100)
	if err != nil {
		return 0, nil, err
	}
	before, err := cursorQuery(r, "before_epoch")
	if err != nil {
		return 0, nil, err
	}
	accruals, err := s.deps.Query.ListAccruals(r.Context(), limit, before)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]interface{}{"accruals": accruals}, nil
}

func (s *Server) accrual(r *http.Request, params map[string]string) (int, interface{}, error) {
	epoch, err := strconv.ParseInt(params["epoch"], 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: epoch: %v", errBadRequest, err)
	}
	resp, err := s.deps.Query.GetAccrual(r.Context(), epoch)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, resp, nil
}

// ============================================================================
// Core readers
// ============================================================================

// PremiumResponse is a hard liquidation premium quote.
type PremiumResponse struct {
	PremiumBps  uint64 `json:"premium_bps"`
	LTVBps      uint64 `json:"ltv_bps"`
	FullySeized bool   `json:"fully_seized"`
}

// SaturationRatioResponse holds the first-tranche fill per tree, in bps.
type SaturationRatioResponse struct {
	NetXBps uint64 `json:"net_x_bps"`
	NetYBps uint64 `json:"net_y_bps"`
}

// TreeSummary is one tree's state. Amounts are base-10 strings.
type TreeSummary struct {
	Tree           string `json:"tree"`
	HighestLeaf    int    `json:"highest_leaf"`
	TotalSatAbs    string `json:"total_sat_abs"`
	Accounts       int    `json:"accounts"`
	Tranches       int    `json:"tranches"`
	OccupiedLeaves int    `json:"occupied_leaves"`
}

// PlacementEntry is one tranche of an account's placement.
type PlacementEntry struct {
	Tranche        int16  `json:"tranche"`
	Abs            string `json:"abs"`
	Rel            string `json:"rel"`
	LowerSqrtPrice string `json:"lower_sqrt_price"`
	UpperSqrtPrice string `json:"upper_sqrt_price"`
}

// TreeAccountResponse is an account's live placement in one tree.
type TreeAccountResponse struct {
	Account        uuid.UUID        `json:"account"`
	Tree           string           `json:"tree"`
	StartTranche   int16            `json:"start_tranche"`
	Entries        []PlacementEntry `json:"entries"`
	AccruedPenalty string           `json:"accrued_penalty"`
	Unpaid         string           `json:"unpaid_penalty"`
}

func readQuote(r *http.Request) (ingestion.Quote, error) {
	body, err := readBody(r)
	if err != nil {
		return ingestion.Quote{}, err
	}
	q, err := ingestion.ParseQuote(body)
	if err != nil {
		return q, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return q, nil
}

func (s *Server) premium(r *http.Request, _ map[string]string) (int, interface{}, error) {
	q, err := readQuote(r)
	if err != nil {
		return 0, nil, err
	}
	var p saturation.Premium
	err = s.deps.Core.Read(r.Context(), "premium", func(sat *saturation.Saturation) error {
		var err error
		p, err = sat.CalcHardLiquidationPremium(q.Account, q.Inputs, q.Repaid)
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, PremiumResponse{PremiumBps: p.PremiumBps, LTVBps: p.LTVBps, FullySeized: p.FullySeized}, nil
}

func (s *Server) saturationRatio(r *http.Request, _ map[string]string) (int, interface{}, error) {
	q, err := readQuote(r)
	if err != nil {
		return 0, nil, err
	}
	if q.SaturationRatioWad.IsZero() {
		return 0, nil, fmt.Errorf("%w: saturation_ratio_wad must be positive", errBadRequest)
	}
	var resp SaturationRatioResponse
	err = s.deps.Core.Read(r.Context(), "saturation_ratio", func(sat *saturation.Saturation) error {
		var err error
		resp.NetXBps, resp.NetYBps, err = sat.CalcSaturationChangeRatio(q.Account, q.Inputs, &q.SaturationRatioWad)
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, resp, nil
}

func (s *Server) trees(r *http.Request, _ map[string]string) (int, interface{}, error) {
	var stats [2]saturation.TreeStats
	err := s.deps.Core.Read(r.Context(), "trees", func(sat *saturation.Saturation) error {
		stats = sat.Stats()
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	out := make([]TreeSummary, 0, len(stats))
	for _, st := range stats {
		out = append(out, TreeSummary{
			Tree:           st.Direction.String(),
			HighestLeaf:    st.HighestLeaf,
			TotalSatAbs:    st.TotalSatAbs.Dec(),
			Accounts:       st.Accounts,
			Tranches:       st.Tranches,
			OccupiedLeaves: st.OccupiedLeaves,
		})
	}
	return http.StatusOK, map[string]interface{}{"trees": out}, nil
}

func (s *Server) treeAccount(r *http.Request, params map[string]string) (int, interface{}, error) {
	var dir saturation.Direction
	switch params["tree"] {
	case saturation.NetX.String():
		dir = saturation.NetX
	case saturation.NetY.String():
		dir = saturation.NetY
	default:
		return 0, nil, fmt.Errorf("%w: unknown tree %q", errBadRequest, params["tree"])
	}
	account, err := accountParam(params)
	if err != nil {
		return 0, nil, err
	}

	var resp TreeAccountResponse
	err = s.deps.Core.Read(r.Context(), "tree_account", func(sat *saturation.Saturation) error {
		v, ok := sat.Account(dir, account)
		if !ok {
			return fmt.Errorf("account %s in %s: %w", account, dir, query.ErrNotFound)
		}
		resp = TreeAccountResponse{
			Account:        account,
			Tree:           dir.String(),
			StartTranche:   int16(v.StartTranche),
			Entries:        make([]PlacementEntry, len(v.Entries)),
			AccruedPenalty: v.AccruedPenalty.Dec(),
			Unpaid:         sat.Unpaid(account).Dec(),
		}
		tree := sat.NetX()
		if dir == saturation.NetY {
			tree = sat.NetY()
		}
		for i := range v.Entries {
			tr := v.StartTranche + saturation.Tranche(int(dir)*i)
			lower, upper := tree.TranchePriceRange(tr)
			resp.Entries[i] = PlacementEntry{
				Tranche:        int16(tr),
				Abs:            v.Entries[i].Abs.Dec(),
				Rel:            v.Entries[i].Rel.Dec(),
				LowerSqrtPrice: lower.Dec(),
				UpperSqrtPrice: upper.Dec(),
			}
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, resp, nil
}
