package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"SatLedger/internal/event"
	"SatLedger/internal/liquidation"
	"SatLedger/internal/saturation"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ParseRawEvent converts a RawEvent into a typed event.Event.
// The ingestion shell validates and parses raw events before they reach the
// deterministic core; the core never sees JSON.
func ParseRawEvent(raw RawEvent, eventType event.EventType) (event.Event, error) {
	return ParseEvent(eventType, raw.Data)
}

// ParseEvent decodes the wire format of one command. It is also used to
// decode commands read back from the event log.
func ParseEvent(eventType event.EventType, data []byte) (event.Event, error) {
	return parse(eventType, data, false)
}

// ParseAdminEvent is ParseEvent for manually injected commands: missing ids
// are generated and a missing timestamp defaults to now.
func ParseAdminEvent(eventType event.EventType, data []byte) (event.Event, error) {
	return parse(eventType, data, true)
}

func parse(eventType event.EventType, data []byte, admin bool) (event.Event, error) {
	switch eventType {
	case event.EventTypePositionUpdate:
		return parsePositionUpdate(data, admin)
	case event.EventTypePenaltyAccrual:
		return parsePenaltyAccrual(data, admin)
	case event.EventTypePenaltyClaim:
		return parsePenaltyClaim(data, admin)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// EncodeEvent is the inverse of ParseEvent.
func EncodeEvent(evt event.Event) ([]byte, error) {
	switch e := evt.(type) {
	case *event.PositionUpdate:
		in := &e.Inputs
		return json.Marshal(positionUpdateJSON{
			UpdateID:           e.UpdateID.String(),
			Account:            e.Account.String(),
			DepositL:           in.DepositL.Dec(),
			DepositX:           in.DepositX.Dec(),
			DepositY:           in.DepositY.Dec(),
			BorrowL:            in.BorrowL.Dec(),
			BorrowX:            in.BorrowX.Dec(),
			BorrowY:            in.BorrowY.Dec(),
			SqrtPriceQ64:       in.SqrtPriceQ64.Dec(),
			ActiveLiquidity:    in.ActiveLiquidity.Dec(),
			SaturationRatioWad: e.SaturationRatioWad.Dec(),
			Sequence:           e.Sequence,
			TimestampUs:        e.Timestamp.UnixMicro(),
		})
	case *event.PenaltyAccrual:
		u := &e.Utilization
		return json.Marshal(penaltyAccrualJSON{
			EpochID:                  e.EpochID,
			DurationSeconds:          e.DurationSeconds,
			ExternalLiquidity:        u.ExternalLiquidity.Dec(),
			DepositedL:               u.DepositedL.Dec(),
			BorrowedL:                u.BorrowedL.Dec(),
			PoolUtilizationWad:       u.PoolUtilizationWad.Dec(),
			SaturationUtilizationWad: u.SaturationUtilizationWad.Dec(),
			TimestampUs:              e.Timestamp.UnixMicro(),
		})
	case *event.PenaltyClaim:
		return json.Marshal(penaltyClaimJSON{
			ClaimID:     e.ClaimID.String(),
			Account:     e.Account.String(),
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Token amounts are
// decimal strings: they do not fit in a JSON number.

type positionUpdateJSON struct {
	UpdateID           string `json:"update_id"`
	Account            string `json:"account"`
	DepositL           string `json:"deposit_l"`
	DepositX           string `json:"deposit_x"`
	DepositY           string `json:"deposit_y"`
	BorrowL            string `json:"borrow_l"`
	BorrowX            string `json:"borrow_x"`
	BorrowY            string `json:"borrow_y"`
	SqrtPriceQ64       string `json:"sqrt_price_q64"`
	ActiveLiquidity    string `json:"active_liquidity"`
	SaturationRatioWad string `json:"saturation_ratio_wad"`
	Sequence           int64  `json:"sequence"`
	TimestampUs        int64  `json:"timestamp_us"`
}

func parsePositionUpdate(data []byte, admin bool) (*event.PositionUpdate, error) {
	var j positionUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PositionUpdate: %w", err)
	}
	updateID, err := parseID("update_id", j.UpdateID, admin)
	if err != nil {
		return nil, err
	}
	account, err := parseID("account", j.Account, false)
	if err != nil {
		return nil, err
	}

	in, err := j.inputs()
	if err != nil {
		return nil, err
	}

	evt := &event.PositionUpdate{
		UpdateID:  updateID,
		Account:   account,
		Inputs:    in,
		Sequence:  j.Sequence,
		Timestamp: parseTimestamp(j.TimestampUs, admin),
	}
	if err := parseAmount("saturation_ratio_wad", j.SaturationRatioWad, &evt.SaturationRatioWad); err != nil {
		return nil, err
	}
	if evt.SaturationRatioWad.IsZero() {
		return nil, fmt.Errorf("parse saturation_ratio_wad: must be positive")
	}
	return evt, nil
}

func (j *positionUpdateJSON) inputs() (liquidation.PositionInputs, error) {
	var in liquidation.PositionInputs
	fields := []struct {
		name string
		s    string
		dst  *uint256.Int
	}{
		{"deposit_l", j.DepositL, &in.DepositL},
		{"deposit_x", j.DepositX, &in.DepositX},
		{"deposit_y", j.DepositY, &in.DepositY},
		{"borrow_l", j.BorrowL, &in.BorrowL},
		{"borrow_x", j.BorrowX, &in.BorrowX},
		{"borrow_y", j.BorrowY, &in.BorrowY},
		{"sqrt_price_q64", j.SqrtPriceQ64, &in.SqrtPriceQ64},
		{"active_liquidity", j.ActiveLiquidity, &in.ActiveLiquidity},
	}
	for _, f := range fields {
		if err := parseAmount(f.name, f.s, f.dst); err != nil {
			return in, err
		}
	}
	return in, nil
}

// Quote is a read-only question about an account's position against the
// current trees: a premium quote or a saturation change ratio.
type Quote struct {
	Account            uuid.UUID
	Inputs             liquidation.PositionInputs
	SaturationRatioWad uint256.Int
	Repaid             saturation.RepaidInputs
}

type quoteJSON struct {
	positionUpdateJSON
	RepaidX string `json:"repaid_x"`
	RepaidY string `json:"repaid_y"`
}

// ParseQuote decodes a quote request. It takes the PositionUpdate fields
// plus repaid_x and repaid_y; ids other than account are ignored.
func ParseQuote(data []byte) (Quote, error) {
	var q Quote
	var j quoteJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return q, fmt.Errorf("parse quote: %w", err)
	}
	account, err := parseID("account", j.Account, false)
	if err != nil {
		return q, err
	}
	in, err := j.inputs()
	if err != nil {
		return q, err
	}
	q.Account = account
	q.Inputs = in
	if err := parseAmount("saturation_ratio_wad", j.SaturationRatioWad, &q.SaturationRatioWad); err != nil {
		return q, err
	}
	if err := parseAmount("repaid_x", j.RepaidX, &q.Repaid.RepaidX); err != nil {
		return q, err
	}
	if err := parseAmount("repaid_y", j.RepaidY, &q.Repaid.RepaidY); err != nil {
		return q, err
	}
	return q, nil
}

type penaltyAccrualJSON struct {
	EpochID                  int64  `json:"epoch_id"`
	DurationSeconds          uint64 `json:"duration_seconds"`
	ExternalLiquidity        string `json:"external_liquidity"`
	DepositedL               string `json:"deposited_l"`
	BorrowedL                string `json:"borrowed_l"`
	PoolUtilizationWad       string `json:"pool_utilization_wad"`
	SaturationUtilizationWad string `json:"saturation_utilization_wad"`
	TimestampUs              int64  `json:"timestamp_us"`
}

func parsePenaltyAccrual(data []byte, admin bool) (*event.PenaltyAccrual, error) {
	var j penaltyAccrualJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PenaltyAccrual: %w", err)
	}
	if j.EpochID < 0 {
		return nil, fmt.Errorf("parse epoch_id: must not be negative, got %d", j.EpochID)
	}

	var u saturation.UtilizationInputs
	fields := []struct {
		name string
		s    string
		dst  *uint256.Int
	}{
		{"external_liquidity", j.ExternalLiquidity, &u.ExternalLiquidity},
		{"deposited_l", j.DepositedL, &u.DepositedL},
		{"borrowed_l", j.BorrowedL, &u.BorrowedL},
		{"pool_utilization_wad", j.PoolUtilizationWad, &u.PoolUtilizationWad},
		{"saturation_utilization_wad", j.SaturationUtilizationWad, &u.SaturationUtilizationWad},
	}
	for _, f := range fields {
		if err := parseAmount(f.name, f.s, f.dst); err != nil {
			return nil, err
		}
	}

	return &event.PenaltyAccrual{
		EpochID:         j.EpochID,
		DurationSeconds: j.DurationSeconds,
		Utilization:     u,
		Timestamp:       parseTimestamp(j.TimestampUs, admin),
	}, nil
}

type penaltyClaimJSON struct {
	ClaimID     string `json:"claim_id"`
	Account     string `json:"account"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePenaltyClaim(data []byte, admin bool) (*event.PenaltyClaim, error) {
	var j penaltyClaimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PenaltyClaim: %w", err)
	}
	claimID, err := parseID("claim_id", j.ClaimID, admin)
	if err != nil {
		return nil, err
	}
	account, err := parseID("account", j.Account, false)
	if err != nil {
		return nil, err
	}
	return &event.PenaltyClaim{
		ClaimID:   claimID,
		Account:   account,
		Sequence:  j.Sequence,
		Timestamp: parseTimestamp(j.TimestampUs, admin),
	}, nil
}

func parseID(name, s string, generate bool) (uuid.UUID, error) {
	if s == "" && generate {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return id, nil
}

// parseAmount reads a base-10 amount; an empty string is zero.
func parseAmount(name, s string, dst *uint256.Int) error {
	if s == "" {
		dst.Clear()
		return nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	dst.Set(v)
	return nil
}

func parseTimestamp(us int64, admin bool) time.Time {
	if us == 0 && admin {
		return time.Now().UTC()
	}
	return time.UnixMicro(us).UTC()
}
