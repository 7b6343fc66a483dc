// Package dcf estimates an intrinsic share value from a projected series of
// free cash flows. The projection starts from a fixed base cash flow and the
// current price comes from a PriceSource; neither is real market data.
package dcf

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	// BaseCashFlow is the first-year cash flow before growth, in millions.
	BaseCashFlow = 10000.0
	// SharesOutstanding is the share count, in millions.
	SharesOutstanding = 1000.0
)

var (
	ErrInvalidInput = errors.New("invalid input parameters")
	ErrRatesEqual   = errors.New("discount rate must differ from growth rate")
	ErrNonFinite    = errors.New("valuation is not a finite number")
)

// Input rates are percentages, so 3 means 3%.
type Input struct {
	Ticker       string
	GrowthRate   float64
	DiscountRate float64
	Years        int
}

type CashFlow struct {
	Year     int     `json:"year"`
	CashFlow float64 `json:"cashFlow"`
}

type Result struct {
	CurrentPrice   float64    `json:"currentPrice"`
	IntrinsicValue float64    `json:"intrinsicValue"`
	UpsideDownside float64    `json:"upsideDownside"`
	CashFlows      []CashFlow `json:"cashFlows"`
}

// PriceSource supplies the current share price for a ticker.
type PriceSource interface {
	Price(ctx context.Context, ticker string) (float64, error)
}

// PlaceholderPrice returns the same price for every ticker. It stands in for
// a market data feed and is not a quote.
type PlaceholderPrice float64

// DefaultPlaceholderPrice is the price reported when no feed is configured.
const DefaultPlaceholderPrice PlaceholderPrice = 150.25

func (p PlaceholderPrice) Price(ctx context.Context, ticker string) (float64, error) {
	return float64(p), nil
}

type Estimator struct {
	prices PriceSource
	now    func() time.Time
}

func NewEstimator(prices PriceSource) *Estimator {
	if prices == nil {
		prices = DefaultPlaceholderPrice
	}
	return &Estimator{prices: prices, now: time.Now}
}

// Validate checks an Input without computing anything.
func Validate(in Input) error {
	if strings.TrimSpace(in.Ticker) == "" {
		return fmt.Errorf("%w: ticker is required", ErrInvalidInput)
	}
	if in.Years <= 0 {
		return fmt.Errorf("%w: years must be a positive integer", ErrInvalidInput)
	}
	if !finite(in.GrowthRate) || !finite(in.DiscountRate) {
		return fmt.Errorf("%w: rates must be finite numbers", ErrInvalidInput)
	}
	if in.DiscountRate <= -100 || in.GrowthRate <= -100 {
		return fmt.Errorf("%w: rates must be greater than -100", ErrInvalidInput)
	}
	if in.GrowthRate == in.DiscountRate {
		return ErrRatesEqual
	}
	return nil
}

// Estimate projects Years cash flows labelled from the current year, adds
// a Gordon growth terminal value, discounts everything at DiscountRate and
// divides by SharesOutstanding.
func (e *Estimator) Estimate(ctx context.Context, in Input) (*Result, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}

	price, err := e.prices.Price(ctx, in.Ticker)
	if err != nil {
		return nil, fmt.Errorf("get price: %w", err)
	}

	g := in.GrowthRate / 100
	d := in.DiscountRate / 100
	firstYear := e.now().Year()

	flows := make([]CashFlow, in.Years)
	var pvFlows float64
	for i := range flows {
		cf := BaseCashFlow * math.Pow(1+g, float64(i+1))
		flows[i] = CashFlow{Year: firstYear + i, CashFlow: cf}
		pvFlows += cf / math.Pow(1+d, float64(i+1))
	}

	terminal := flows[len(flows)-1].CashFlow * (1 + g) / (d - g)
	pvTerminal := terminal / math.Pow(1+d, float64(in.Years))
	intrinsic := (pvFlows + pvTerminal) / SharesOutstanding

	res := &Result{
		CurrentPrice:   price,
		IntrinsicValue: intrinsic,
		CashFlows:      flows,
	}
	if price != 0 {
		res.UpsideDownside = (intrinsic - price) / price * 100
	}

	if !finite(res.IntrinsicValue) || !finite(res.UpsideDownside) {
		return nil, ErrNonFinite
	}
	for _, cf := range flows {
		if !finite(cf.CashFlow) {
			return nil, ErrNonFinite
		}
	}
	return res, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
