package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruhrdata/regiolake/api/metrics"
	"github.com/ruhrdata/regiolake/pkg/querier"
)

const (
	minYear = 1900
	maxYear = 2100

	maxQuestionLength = 500

	cacheKeyCities   = "cities"
	cacheKeyMetadata = "indicator-metadata"
)

type errorResponse struct {
	Error string `json:"error"`
}

type yearRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// snapshotResponse is returned for every category endpoint. Data is empty and
// AvailableRange set when the year is not covered.
type snapshotResponse struct {
	Category        string                    `json:"category"`
	Year            int                       `json:"year"`
	Data            []querier.SnapshotRow     `json:"data"`
	CommuterBalance []querier.CommuterBalance `json:"commuterBalance,omitempty"`
	AvailableRange  *yearRange                `json:"availableRange,omitempty"`
	Message         string                    `json:"message,omitempty"`
}

type timeSeriesResponse struct {
	IndicatorCode string                    `json:"indicatorCode"`
	StartYear     int                       `json:"startYear"`
	EndYear       int                       `json:"endYear"`
	Data          []querier.TimeSeriesPoint `json:"data"`
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.querier.Ping(r.Context()); err != nil {
		s.log.Error("api: health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "database": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "connected"})
}

func (s *Server) handleCities(w http.ResponseWriter, r *http.Request) {
	s.cached(w, r, cacheKeyCities, s.cfg.CacheTTL, func(ctx context.Context) (any, error) {
		return s.querier.Cities(ctx)
	})
}

func (s *Server) handleIndicatorMetadata(w http.ResponseWriter, r *http.Request) {
	s.cached(w, r, cacheKeyMetadata, s.cfg.MetadataCacheTTL, func(ctx context.Context) (any, error) {
		return s.querier.IndicatorMetadata(ctx)
	})
}

func (s *Server) handleSnapshot(category string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		year, err := parseYear(chi.URLParam(r, "year"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		snap, err := s.querier.CategorySnapshot(r.Context(), category, year, parseCities(r))
		var rangeErr *querier.YearOutOfRangeError
		switch {
		case errors.As(err, &rangeErr):
			metrics.YearOutOfRange.WithLabelValues(category).Inc()
			resp := snapshotResponse{
				Category: category,
				Year:     year,
				Data:     []querier.SnapshotRow{},
				Message:  rangeErr.Error(),
			}
			if rangeErr.Min != 0 {
				resp.AvailableRange = &yearRange{Min: rangeErr.Min, Max: rangeErr.Max}
			}
			writeJSON(w, http.StatusOK, resp)
			return
		case err != nil:
			s.internalError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, snapshotResponse{
			Category:        category,
			Year:            year,
			Data:            snap.Rows,
			CommuterBalance: snap.CommuterBalance,
		})
	}
}

func (s *Server) handleTimeSeries(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(chi.URLParam(r, "indicatorCode"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "indicator code is required")
		return
	}
	start, end := minYear, maxYear
	if v := r.URL.Query().Get("startYear"); v != "" {
		y, err := parseYear(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "startYear: "+err.Error())
			return
		}
		start = y
	}
	if v := r.URL.Query().Get("endYear"); v != "" {
		y, err := parseYear(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "endYear: "+err.Error())
			return
		}
		end = y
	}
	if start > end {
		writeError(w, http.StatusBadRequest, "startYear must not be after endYear")
		return
	}

	points, err := s.querier.TimeSeries(r.Context(), code, start, end, parseCities(r))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, timeSeriesResponse{
		IndicatorCode: code,
		StartYear:     start,
		EndYear:       end,
		Data:          points,
	})
}

func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	indicators, err := s.querier.Indicators(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, indicators)
}

func (s *Server) handleYears(w http.ResponseWriter, r *http.Request) {
	years, err := s.querier.Years(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, years)
}

func (s *Server) handleIndicatorYears(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "indicator code is required")
		return
	}
	years, err := s.querier.IndicatorYears(r.Context(), code)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, years)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	question := strings.TrimSpace(req.Message)
	if question == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if len(question) > maxQuestionLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("message must not exceed %d characters", maxQuestionLength))
		return
	}

	resp, err := s.chat.Answer(r.Context(), question)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// cached serves a response from the cache, computing and storing it on a miss.
// Failures are never cached.
func (s *Server) cached(w http.ResponseWriter, r *http.Request, key string, ttl time.Duration, fetch func(context.Context) (any, error)) {
	if item := s.cache.Get(key); item != nil {
		metrics.CacheLookups.WithLabelValues(key, "hit").Inc()
		writeJSON(w, http.StatusOK, item.Value())
		return
	}
	metrics.CacheLookups.WithLabelValues(key, "miss").Inc()

	v, err := fetch(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.cache.Set(key, v, ttl)
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("api: request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func parseYear(v string) (int, error) {
	year, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid year %q", v)
	}
	if year < minYear || year > maxYear {
		return 0, fmt.Errorf("year %d out of bounds %d-%d", year, minYear, maxYear)
	}
	return year, nil
}

// parseCities splits the comma-separated cities query parameter.
func parseCities(r *http.Request) []string {
	raw := r.URL.Query().Get("cities")
	if raw == "" {
		return nil
	}
	var cities []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cities = append(cities, c)
		}
	}
	return cities
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
