package state

import (
	"context"
	"encoding/json"
	"strings"
)

const scalperSnapshotPrefix = "scalper:"

// ScalperSnapshot records the last decision a symbol's engine made, for
// operator inspection after the fact. Exposure numbers are the ones the
// cycle actually acted on.
type ScalperSnapshot struct {
	Symbol      string  `json:"symbol"`
	State       string  `json:"state"`
	Mode        string  `json:"mode"`
	FairValue   float64 `json:"fair_value"`
	Delta       float64 `json:"delta"`
	Gamma       float64 `json:"gamma"`
	Theta       float64 `json:"theta"`
	Threshold   float64 `json:"threshold"`
	Position    float64 `json:"position"`
	DeltaHedges int     `json:"delta_hedges"`
	GammaCycles int     `json:"gamma_cycles"`
	UpdatedAtMS int64   `json:"updated_at_ms"`
}

func scalperKey(symbol string) string {
	return scalperSnapshotPrefix + symbol
}

func LoadScalperSnapshot(ctx context.Context, store Store, symbol string) (ScalperSnapshot, bool, error) {
	if store == nil {
		return ScalperSnapshot{}, false, nil
	}
	raw, ok, err := store.Get(ctx, scalperKey(symbol))
	if err != nil {
		return ScalperSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return ScalperSnapshot{}, false, nil
	}
	var snapshot ScalperSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return ScalperSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveScalperSnapshot(ctx context.Context, store Store, snapshot ScalperSnapshot) error {
	if store == nil {
		return nil
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, scalperKey(snapshot.Symbol), string(payload))
}
