package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"hazine/internal/core"
	"hazine/internal/log"
	"hazine/internal/rates"
)

const staleWarning = `110 - "Response is Stale"`

type convertResponse struct {
	Toman int64           `json:"toman"`
	USD   decimal.Decimal `json:"usd"`
	Rate  decimal.Decimal `json:"rate"`
	Meta  rates.Meta      `json:"_meta"`
}

func (h *handlers) rateFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, rates.ErrNotConfigured) {
		h.logger.ErrorContext(r.Context(), "Exchange rate API key missing", log.FieldOperation, op)
		writeError(w, http.StatusInternalServerError, rates.ErrNotConfigured.Error())
		return
	}
	failure{op: op, component: log.ComponentRates, generic: "Failed to fetch exchange rate"}.write(w, r, err)
}

// setFreshness lets browsers and shared caches keep a fresh snapshot only
// until the server-side copy expires. Stale snapshots must be revalidated.
func (h *handlers) setFreshness(w http.ResponseWriter, meta rates.Meta) {
	if meta.Stale {
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Warning", staleWarning)
		return
	}

	remaining := h.rateMaxAge
	if !meta.CachedUntil.IsZero() {
		remaining = min(max(meta.CachedUntil.Sub(h.now()), 0), h.rateMaxAge)
	}
	secs := int(remaining / time.Second)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d, s-maxage=%d, stale-while-revalidate=%d",
		secs, secs, int(h.rateMaxAge/time.Second)))
}

func (h *handlers) handleExchangeRate(w http.ResponseWriter, r *http.Request) {
	snap, err := h.rates.Get(r.Context())
	if err != nil {
		h.rateFailure(w, r, log.OpFetch, err)
		return
	}
	h.setFreshness(w, snap.Meta)
	writeJSON(w, http.StatusOK, snap)
}

// handleConvert fills in the other currency of an amount at the cached rate.
func (h *handlers) handleConvert(w http.ResponseWriter, r *http.Request) {
	params, err := ParseConvertParams(r)
	if err != nil {
		failure{op: log.OpConvert, component: log.ComponentRates}.write(w, r, err)
		return
	}

	rate, snap, err := h.rates.Rate(r.Context())
	if err != nil {
		h.rateFailure(w, r, log.OpConvert, err)
		return
	}

	resp := convertResponse{Rate: rate, Meta: snap.Meta}
	if params.Toman != nil {
		resp.Toman = *params.Toman
		resp.USD, err = core.TomanToUSD(resp.Toman, rate)
	} else {
		resp.USD = *params.USD
		resp.Toman, err = core.USDToToman(resp.USD, rate)
		if errors.Is(err, core.ErrAmountOutOfRange) {
			err = core.NewValidationError("usd", "usd is out of range")
		}
	}
	if err != nil {
		h.rateFailure(w, r, log.OpConvert, err)
		return
	}

	if snap.Meta.Stale {
		w.Header().Set("Warning", staleWarning)
	}
	writeJSON(w, http.StatusOK, resp)
}
