package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/GeniusYafei/LLM-Assistant-system/internal/repository"
)

// AnalyticsOut is the admin dashboard payload for one time window.
type AnalyticsOut struct {
	Range         string   `json:"range"`
	TotalMessages int64    `json:"total_messages"`
	TokensUsed    int64    `json:"tokens_used"`
	AvgLatencyMS  *float64 `json:"avg_latency_ms"`
	SuccessRate   *float64 `json:"success_rate"`
}

// DailyPoint is one day's assistant token total.
type DailyPoint struct {
	Date   string `json:"date"`
	Tokens int64  `json:"tokens"`
}

// HourlyPoint is one hour-of-day's assistant token total over the last 24h.
type HourlyPoint struct {
	Hour   string `json:"hour"`
	Tokens int64  `json:"tokens"`
}

// TrendsOut carries the dashboard time series.
type TrendsOut struct {
	Range     string        `json:"range"`
	Daily     []DailyPoint  `json:"daily"`
	Hourly24h []HourlyPoint `json:"hourly_24h"`
}

// AnalyticsService aggregates message rows and augments them with the model
// service's self-reported success rate. Upstream failures degrade to null
// rather than failing the request.
type AnalyticsService struct {
	repo       repository.AnalyticsRepository
	llmBaseURL string
	http       *http.Client
	loc        *time.Location
}

func NewAnalyticsService(repo repository.AnalyticsRepository, llmBaseURL string) *AnalyticsService {
	// Dashboard buckets follow the deployment's display timezone.
	loc, err := time.LoadLocation("Australia/Sydney")
	if err != nil {
		loc = time.UTC
	}
	return &AnalyticsService{
		repo:       repo,
		llmBaseURL: strings.TrimRight(llmBaseURL, "/"),
		http:       &http.Client{Timeout: 5 * time.Second},
		loc:        loc,
	}
}

// ErrInvalidRange is returned for time ranges other than 7d, 30d and 90d.
var ErrInvalidRange = errors.New("invalid range: want 7d, 30d or 90d")

func rangeToDays(r string) (int, error) {
	switch r {
	case "", "7d":
		return 7, nil
	case "30d":
		return 30, nil
	case "90d":
		return 90, nil
	default:
		return 0, ErrInvalidRange
	}
}

func (s *AnalyticsService) Summary(ctx context.Context, timeRange string) (*AnalyticsOut, error) {
	days, err := rangeToDays(timeRange)
	if err != nil {
		return nil, err
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)

	sum, err := s.repo.Summary(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate analytics: %w", err)
	}

	out := &AnalyticsOut{
		Range:         fmt.Sprintf("%dd", days),
		TotalMessages: sum.TotalMessages,
		TokensUsed:    sum.TotalTokens,
		AvgLatencyMS:  sum.AvgLatencyMS,
		SuccessRate:   s.fetchSuccessRate(ctx),
	}
	return out, nil
}

// Trends buckets assistant token usage into one point per day over the
// range and one point per hour over the last 24 hours. Buckets are aligned
// to the display timezone and prefilled with zeros.
func (s *AnalyticsService) Trends(ctx context.Context, timeRange string) (*TrendsOut, error) {
	days, err := rangeToDays(timeRange)
	if err != nil {
		return nil, err
	}

	now := time.Now().In(s.loc)

	year, month, day := now.Date()
	today := time.Date(year, month, day, 0, 0, 0, 0, s.loc)
	dailyStart := today.AddDate(0, 0, -(days - 1))

	samples, err := s.repo.AssistantTokens(ctx, dailyStart.UTC(), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to load daily token trend: %w", err)
	}

	daily := make([]DailyPoint, 0, days)
	dayIndex := map[string]int{}
	for i := 0; i < days; i++ {
		d := dailyStart.AddDate(0, 0, i)
		key := d.Format("2006-01-02")
		dayIndex[key] = len(daily)
		daily = append(daily, DailyPoint{Date: key})
	}
	for _, sm := range samples {
		key := sm.CreatedAt.In(s.loc).Format("2006-01-02")
		if i, ok := dayIndex[key]; ok {
			daily[i].Tokens += sm.Tokens
		}
	}

	hourStart := time.Date(year, month, day, now.Hour(), 0, 0, 0, s.loc).Add(-23 * time.Hour)
	samples24, err := s.repo.AssistantTokens(ctx, hourStart.UTC(), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to load hourly token trend: %w", err)
	}

	hourly := make([]HourlyPoint, 24)
	for i := range hourly {
		hourly[i].Hour = fmt.Sprintf("%02d:00", i)
	}
	for _, sm := range samples24 {
		hourly[sm.CreatedAt.In(s.loc).Hour()].Tokens += sm.Tokens
	}

	return &TrendsOut{
		Range:     fmt.Sprintf("%dd", days),
		Daily:     daily,
		Hourly24h: hourly,
	}, nil
}

// fetchSuccessRate derives success from the model service's retry_rate
// endpoint. Any failure yields nil.
func (s *AnalyticsService) fetchSuccessRate(ctx context.Context) *float64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.llmBaseURL+"/retry_rate", nil)
	if err != nil {
		return nil
	}

	res, err := s.http.Do(req)
	if err != nil {
		log.Printf("[AnalyticsService] retry_rate fetch failed: %v", err)
		return nil
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil
	}

	var payload struct {
		RetryRate *float64 `json:"retry_rate"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil || payload.RetryRate == nil {
		return nil
	}

	rate := 1.0 - *payload.RetryRate
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return &rate
}
