package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"

	"github.com/dukerupert/fortrock/internal/dcf"
)

const (
	maxDCFBody         = 16 << 10
	maxProjectionYears = 100
)

const (
	msgInvalidInput = "Invalid input parameters"
	msgDCFFailed    = "Failed to calculate DCF"
)

// dcfRequest uses pointers so a missing field is told apart from a zero.
type dcfRequest struct {
	Ticker       *string  `json:"ticker"`
	GrowthRate   *float64 `json:"growthRate"`
	DiscountRate *float64 `json:"discountRate"`
	Years        *float64 `json:"years"`
}

// input converts the request, reporting false for a missing field or a
// years value that is not a whole number in range.
func (req dcfRequest) input() (dcf.Input, bool) {
	if req.Ticker == nil || req.GrowthRate == nil || req.DiscountRate == nil || req.Years == nil {
		return dcf.Input{}, false
	}
	years := *req.Years
	if years != math.Trunc(years) || years < 1 || years > maxProjectionYears {
		return dcf.Input{}, false
	}
	return dcf.Input{
		Ticker:       *req.Ticker,
		GrowthRate:   *req.GrowthRate,
		DiscountRate: *req.DiscountRate,
		Years:        int(years),
	}, true
}

type DCFHandler struct {
	estimator *dcf.Estimator
	logger    *slog.Logger
}

func NewDCFHandler(estimator *dcf.Estimator, logger *slog.Logger) *DCFHandler {
	return &DCFHandler{estimator: estimator, logger: logger}
}

// Estimate runs a DCF valuation. Bad input gets 400; anything else that goes
// wrong is logged and reported as a generic 500.
func (h *DCFHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDCFBody)

	var req dcfRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msgInvalidInput})
		return
	}
	in, ok := req.input()
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msgInvalidInput})
		return
	}

	result, err := h.estimator.Estimate(r.Context(), in)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, dcf.ErrRatesEqual), errors.Is(err, dcf.ErrInvalidInput), errors.Is(err, dcf.ErrNonFinite):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msgInvalidInput})
	default:
		h.logger.Error("dcf estimate", "ticker", in.Ticker, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msgDCFFailed})
	}
}
