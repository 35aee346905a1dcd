package perp

import (
	"fmt"
	"strconv"
	"strings"

	"option-scalp-bot/internal/venue"
)

// orderWire is the venue's order payload. Prices and sizes travel as
// strings with trailing zeros trimmed so the signed bytes are stable.
type orderWire struct {
	Symbol        string `msgpack:"s" json:"s"`
	IsBuy         bool   `msgpack:"b" json:"b"`
	Price         string `msgpack:"p" json:"p"`
	Size          string `msgpack:"z" json:"z"`
	PostOnly      bool   `msgpack:"po" json:"po"`
	ClientOrderID string `msgpack:"c,omitempty" json:"c,omitempty"`
}

type orderAction struct {
	Type   string      `msgpack:"type" json:"type"`
	Orders []orderWire `msgpack:"orders" json:"orders"`
}

type cancelAllAction struct {
	Type   string `msgpack:"type" json:"type"`
	Symbol string `msgpack:"symbol" json:"symbol"`
}

func orderToWire(o venue.Order) orderWire {
	return orderWire{
		Symbol:        o.Symbol,
		IsBuy:         o.Side == venue.SideBuy,
		Price:         floatToWire(o.Price),
		Size:          floatToWire(o.Quantity),
		PostOnly:      o.PostOnly,
		ClientOrderID: o.ClientOrderID,
	}
}

// floatToWire renders a float without exponent notation and without
// trailing zeros, matching what the venue hashes on its side.
func floatToWire(v float64) string {
	s := strconv.FormatFloat(v, 'f', 8, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

func parseWireFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse wire float %q: %w", s, err)
	}
	return v, nil
}
