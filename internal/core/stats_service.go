package core

import (
	"context"
	"math"
	"time"

	"github.com/bauki/assistant-backend/internal/apperr"
	"github.com/bauki/assistant-backend/internal/auth"
	"github.com/bauki/assistant-backend/internal/store"
)

const (
	defaultStatsWindow = 30 * 24 * time.Hour
	maxStatsDays       = 366
	topRegionsLimit    = 10
	dayLayout          = "2006-01-02"
)

type StatsStore interface {
	CollectStats(ctx context.Context, q store.StatsQuery) (*store.Stats, error)
}

type ChartPoint struct {
	Date        string `json:"date"`
	NewUsers    int    `json:"new_users"`
	ActiveUsers int    `json:"active_users"`
}

type AdminStats struct {
	StartDate           time.Time           `json:"start_date"`
	EndDate             time.Time           `json:"end_date"`
	TotalUsers          int                 `json:"total_users"`
	NewUsersInPeriod    int                 `json:"new_users_in_period"`
	ActiveUsersToday    int                 `json:"active_users_today"`
	ActiveUsersInPeriod int                 `json:"active_users_in_period"`
	TotalConversations  int                 `json:"total_conversations"`
	TotalMessages       int                 `json:"total_messages"`
	AvgMessagesPerChat  float64             `json:"avg_messages_per_chat"`
	UsersWithChats      int                 `json:"users_with_chats"`
	TopRegions          []store.RegionCount `json:"top_regions"`
	ChartData           []ChartPoint        `json:"chart_data"`
}

type StatsService struct {
	store StatsStore
	admin *auth.AdminGate
	now   func() time.Time
}

func NewStatsService(st StatsStore, admin *auth.AdminGate) *StatsService {
	return &StatsService{store: st, admin: admin, now: time.Now}
}

// Stats aggregates usage between start and end. Zero values default to the
// last 30 days ending now.
func (s *StatsService) Stats(ctx context.Context, caller *auth.Identity, start, end time.Time) (*AdminStats, error) {
	if _, err := s.admin.RequireAdmin(caller); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if end.IsZero() {
		end = now
	}
	if start.IsZero() {
		start = end.Add(-defaultStatsWindow)
	}
	start, end = start.UTC(), end.UTC()
	if end.Before(start) {
		return nil, apperr.Validation("end_date must not be before start_date")
	}
	if end.Sub(start) > maxStatsDays*24*time.Hour {
		return nil, apperr.Validation("Date range must not exceed one year")
	}

	today := startOfDay(now)
	raw, err := s.store.CollectStats(ctx, store.StatsQuery{
		Start:      start,
		End:        end,
		TodayStart: today,
		TodayEnd:   today.Add(24 * time.Hour),
		TopRegions: topRegionsLimit,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}

	out := &AdminStats{
		StartDate:           start,
		EndDate:             end,
		TotalUsers:          raw.TotalUsers,
		NewUsersInPeriod:    raw.NewUsersInPeriod,
		ActiveUsersToday:    raw.ActiveUsersToday,
		ActiveUsersInPeriod: raw.ActiveUsersInPeriod,
		TotalConversations:  raw.TotalConversations,
		TotalMessages:       raw.TotalMessages,
		UsersWithChats:      raw.UsersWithChats,
		TopRegions:          raw.TopRegions,
		ChartData:           chartData(start, end, raw.NewUsersByDay, raw.ActiveUsersByDay),
	}
	if raw.TotalConversations > 0 {
		avg := float64(raw.TotalMessages) / float64(raw.TotalConversations)
		out.AvgMessagesPerChat = math.Round(avg*100) / 100
	}
	return out, nil
}

// chartData has one point per calendar day touched by [start, end), with
// days lacking activity filled with zeros.
func chartData(start, end time.Time, newUsers, activeUsers []store.DayCount) []ChartPoint {
	byDay := map[string]*ChartPoint{}
	var points []ChartPoint
	for d := startOfDay(start); d.Before(end); d = d.AddDate(0, 0, 1) {
		points = append(points, ChartPoint{Date: d.Format(dayLayout)})
	}
	for i := range points {
		byDay[points[i].Date] = &points[i]
	}
	for _, c := range newUsers {
		if p, ok := byDay[c.Day]; ok {
			p.NewUsers = c.Count
		}
	}
	for _, c := range activeUsers {
		if p, ok := byDay[c.Day]; ok {
			p.ActiveUsers = c.Count
		}
	}
	if points == nil {
		points = []ChartPoint{}
	}
	return points
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
