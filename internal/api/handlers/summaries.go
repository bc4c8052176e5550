package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/osokin/receipt-ledger/internal/api/middleware"
	bq "github.com/osokin/receipt-ledger/internal/bigquery"
	"github.com/rs/zerolog"
)

// defaultMerchantLimit bounds the merchant breakdown when the client does
// not specify one.
const defaultMerchantLimit = 10

// SummariesHandler handles the aggregate reporting endpoints.
type SummariesHandler struct {
	summaries bq.SummaryRepository
	log       zerolog.Logger
}

// NewSummariesHandler creates a new summaries handler.
func NewSummariesHandler(summaries bq.SummaryRepository, log zerolog.Logger) *SummariesHandler {
	return &SummariesHandler{summaries: summaries, log: log}
}

// Summary handles GET /api/summary
func (h *SummariesHandler) Summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	start, end, err := parseDateRange(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.summaries.Summarize(ctx, start, end)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute summary")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to compute summary")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"start_date": start.Format("2006-01-02"),
		"end_date":   end.Format("2006-01-02"),
		"summary":    summary,
	})
}

// Categories handles GET /api/summary/categories
func (h *SummariesHandler) Categories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	start, end, err := parseDateRange(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	buckets, err := h.summaries.CategoryBreakdown(ctx, start, end)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute category breakdown")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to compute category breakdown")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"start_date": start.Format("2006-01-02"),
		"end_date":   end.Format("2006-01-02"),
		"categories": buckets,
		"count":      len(buckets),
	})
}

// Merchants handles GET /api/summary/merchants
func (h *SummariesHandler) Merchants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	start, end, err := parseDateRange(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := defaultMerchantLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			middleware.WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	buckets, err := h.summaries.MerchantBreakdown(ctx, start, end, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute merchant breakdown")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to compute merchant breakdown")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"start_date": start.Format("2006-01-02"),
		"end_date":   end.Format("2006-01-02"),
		"merchants":  buckets,
		"count":      len(buckets),
	})
}

// Monthly handles GET /api/summary/monthly
func (h *SummariesHandler) Monthly(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	year := time.Now().Year()
	if s := r.URL.Query().Get("year"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1900 || n > 9999 {
			middleware.WriteError(w, http.StatusBadRequest, "invalid year")
			return
		}
		year = n
	}

	buckets, err := h.summaries.MonthlyBreakdown(ctx, year)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute monthly breakdown")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to compute monthly breakdown")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"year":   year,
		"months": buckets,
		"count":  len(buckets),
	})
}

// parseDateRange reads start_date and end_date query parameters, defaulting
// to the last year.
func parseDateRange(r *http.Request) (start, end time.Time, err error) {
	query := r.URL.Query()

	if s := query.Get("start_date"); s != "" {
		start, err = time.Parse("2006-01-02", s)
		if err != nil {
			return start, end, fmt.Errorf("invalid start_date format, want YYYY-MM-DD")
		}
	} else {
		start = time.Now().AddDate(-1, 0, 0)
	}

	if s := query.Get("end_date"); s != "" {
		end, err = time.Parse("2006-01-02", s)
		if err != nil {
			return start, end, fmt.Errorf("invalid end_date format, want YYYY-MM-DD")
		}
	} else {
		end = time.Now()
	}

	if end.Before(start) {
		return start, end, fmt.Errorf("end_date is before start_date")
	}

	return start, end, nil
}
