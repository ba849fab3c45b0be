package storage

import (
	"context"
	"fmt"
	"math"
	"time"

	"automator-go/internal/model"
)

// DashboardRecentLogs is the number of recent logs included in a dashboard.
const DashboardRecentLogs = 10

// Dashboard summarizes a user's automations and today's executions.
type Dashboard struct {
	TotalAutomations  int64                `json:"total_automations"`
	ActiveAutomations int64                `json:"active_automations"`
	ExecutionsToday   int64                `json:"executions_today"`
	SuccessRate       float64              `json:"success_rate"`
	RecentLogs        []model.ExecutionLog `json:"recent_logs"`
}

// DailyStats counts executions on one calendar day.
type DailyStats struct {
	Date    string `json:"date"`
	Total   int64  `json:"total"`
	Success int64  `json:"success"`
	Error   int64  `json:"error"`
}

// PeriodStats aggregates executions over a trailing window of days.
type PeriodStats struct {
	Days            int          `json:"days"`
	TotalExecutions int64        `json:"total_executions"`
	Successful      int64        `json:"successful"`
	Failed          int64        `json:"failed"`
	SuccessRate     float64      `json:"success_rate"`
	Daily           []DailyStats `json:"daily"`
}

// GetDashboard builds the dashboard for userID. "Today" is the calendar day
// containing now in now's location.
func (s *SQLiteStorage) GetDashboard(ctx context.Context, userID string, now time.Time) (*Dashboard, error) {
	if err := requireIDs("user ID", userID); err != nil {
		return nil, err
	}

	total, active, err := s.CountAutomations(ctx, userID)
	if err != nil {
		return nil, err
	}

	start := startOfDay(now)
	today, err := s.ListLogsBetween(ctx, userID, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	var success int64
	for _, l := range today {
		if l.Status == model.LogSuccess {
			success++
		}
	}

	recent, err := s.ListLogs(ctx, userID, DashboardRecentLogs)
	if err != nil {
		return nil, err
	}

	return &Dashboard{
		TotalAutomations:  total,
		ActiveAutomations: active,
		ExecutionsToday:   int64(len(today)),
		SuccessRate:       successRate(success, int64(len(today))),
		RecentLogs:        recent,
	}, nil
}

// GetPeriodStats aggregates the last days calendar days up to and including
// the day of now. Days without executions are included with zero counts.
func (s *SQLiteStorage) GetPeriodStats(ctx context.Context, userID string, days int, now time.Time) (*PeriodStats, error) {
	if err := requireIDs("user ID", userID); err != nil {
		return nil, err
	}
	if days <= 0 || days > 365 {
		return nil, fmt.Errorf("%w: days must be between 1 and 365", ErrInvalidInput)
	}

	end := startOfDay(now).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -days)
	logs, err := s.ListLogsBetween(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}

	stats := &PeriodStats{Days: days, Daily: make([]DailyStats, days)}
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i).Format("2006-01-02")
		stats.Daily[i] = DailyStats{Date: date}
		index[date] = i
	}
	for _, l := range logs {
		i, ok := index[l.ExecutedAt.In(now.Location()).Format("2006-01-02")]
		if !ok {
			continue
		}
		stats.Daily[i].Total++
		stats.TotalExecutions++
		if l.Status == model.LogSuccess {
			stats.Daily[i].Success++
			stats.Successful++
		} else {
			stats.Daily[i].Error++
			stats.Failed++
		}
	}
	stats.SuccessRate = successRate(stats.Successful, stats.TotalExecutions)
	return stats, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// successRate is a percentage rounded to two decimals; zero when total is zero.
func successRate(success, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(success)/float64(total)*10000) / 100
}
