package greeks

import (
	"math"
	"time"
)

type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// Position is one option-like deposit held by the market maker. The
// working set for a symbol is rebuilt from the position feed each cycle
// and never mutated in place.
type Position struct {
	Symbol       string
	PremiumAsset string
	Expiration   time.Time
	Strike       float64
	Type         OptionType
	Quantity     float64
}

// Exposure is the aggregate first- and second-order sensitivity of a
// position set at one fair value and instant. Derived, never stored.
type Exposure struct {
	Delta float64
	Gamma float64
	Theta float64
}

const (
	secondsPerYear = 365 * 24 * 3600.0
	daysPerYear    = 365.0
)

// RealRate is the carry-relevant rate of one asset:
// stake/yield rate minus inflation minus storage cost.
func RealRate(yield, inflation, storage float64) float64 {
	return yield - inflation - storage
}

// Calculator evaluates Black-Scholes greeks at a cost-of-carry forward.
// One calculator per symbol; implied vol and rates are configured, not
// estimated.
type Calculator struct {
	impliedVol    float64
	riskFree      float64
	baseRealRate  float64
	quoteRealRate float64
}

func NewCalculator(impliedVol, riskFree, baseRealRate, quoteRealRate float64) *Calculator {
	return &Calculator{
		impliedVol:    impliedVol,
		riskFree:      riskFree,
		baseRealRate:  baseRealRate,
		quoteRealRate: quoteRealRate,
	}
}

func (c *Calculator) ImpliedVol() float64 { return c.impliedVol }

// Forward applies the carry adjustment to spot over a horizon in years.
func (c *Calculator) Forward(spot, years float64) float64 {
	return spot * math.Exp((c.quoteRealRate-c.baseRealRate)*years)
}

// Evaluate sums signed per-position greeks across the set. An empty set
// yields zero exposure. Expired positions still present in the feed are
// evaluated at their intrinsic terminal greeks.
func (c *Calculator) Evaluate(positions []Position, fairValue float64, now time.Time) Exposure {
	var exp Exposure
	for _, pos := range positions {
		years := pos.Expiration.Sub(now).Seconds() / secondsPerYear
		forward := c.Forward(fairValue, years)
		d, g, t := c.contractGreeks(forward, pos.Strike, years, pos.Type)
		exp.Delta += d * pos.Quantity
		exp.Gamma += g * pos.Quantity
		exp.Theta += t * pos.Quantity
	}
	return exp
}

func (c *Calculator) Delta(positions []Position, fairValue float64, now time.Time) float64 {
	return c.Evaluate(positions, fairValue, now).Delta
}

func (c *Calculator) Gamma(positions []Position, fairValue float64, now time.Time) float64 {
	return c.Evaluate(positions, fairValue, now).Gamma
}

func (c *Calculator) Theta(positions []Position, fairValue float64, now time.Time) float64 {
	return c.Evaluate(positions, fairValue, now).Theta
}

// contractGreeks returns per-contract delta, gamma, and theta-per-day
// for one option evaluated at the forward.
func (c *Calculator) contractGreeks(forward, strike, years float64, optType OptionType) (delta, gamma, theta float64) {
	if forward <= 0 || strike <= 0 {
		return 0, 0, 0
	}
	if years <= 0 {
		// Terminal greeks for anything the feed still reports as held.
		if optType == Call {
			if forward > strike {
				return 1, 0, 0
			}
			return 0, 0, 0
		}
		if forward < strike {
			return -1, 0, 0
		}
		return 0, 0, 0
	}
	vol := c.impliedVol
	r := c.riskFree
	sqrtT := math.Sqrt(years)
	volT := vol * sqrtT
	d1 := (math.Log(forward/strike) + 0.5*vol*vol*years) / volT
	d2 := d1 - volT
	discount := math.Exp(-r * years)

	gamma = discount * normPDF(d1) / (forward * volT)
	common := -forward * discount * normPDF(d1) * vol / (2 * sqrtT)
	if optType == Call {
		delta = discount * normCDF(d1)
		theta = common + r*forward*discount*normCDF(d1) - r*strike*discount*normCDF(d2)
	} else {
		delta = discount * (normCDF(d1) - 1)
		theta = common - r*forward*discount*normCDF(-d1) + r*strike*discount*normCDF(-d2)
	}
	return delta, gamma, theta / daysPerYear
}

func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
