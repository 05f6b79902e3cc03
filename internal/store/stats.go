package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// StatsQuery bounds the aggregation. Ranges are half-open [start, end).
type StatsQuery struct {
	Start      time.Time
	End        time.Time
	TodayStart time.Time
	TodayEnd   time.Time
	TopRegions int
}

type RegionCount struct {
	Region string `db:"region" json:"region"`
	Count  int    `db:"count" json:"count"`
}

// DayCount is keyed by the UTC calendar day, formatted as 2006-01-02.
type DayCount struct {
	Day   string `db:"day"`
	Count int    `db:"count"`
}

type Stats struct {
	TotalUsers          int
	NewUsersInPeriod    int
	ActiveUsersToday    int
	ActiveUsersInPeriod int
	TotalConversations  int
	TotalMessages       int
	UsersWithChats      int
	TopRegions          []RegionCount
	NewUsersByDay       []DayCount
	ActiveUsersByDay    []DayCount
}

const activeUsersQuery = `SELECT COUNT(DISTINCT c.owner_id) FROM messages m
	JOIN conversations c ON c.id = m.conversation_id
	WHERE m.role = 'user' AND c.owner_id IS NOT NULL AND m.timestamp >= ? AND m.timestamp < ?`

// CollectStats runs every aggregate inside one read transaction so the
// numbers describe the same snapshot.
func (s *SQLiteStore) CollectStats(ctx context.Context, q StatsQuery) (*Stats, error) {
	st := &Stats{}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		counts := []struct {
			dst   *int
			query string
			args  []any
		}{
			{&st.TotalUsers, "SELECT COUNT(*) FROM users", nil},
			{&st.NewUsersInPeriod, "SELECT COUNT(*) FROM users WHERE created_at >= ? AND created_at < ?",
				[]any{dbTime(q.Start), dbTime(q.End)}},
			{&st.ActiveUsersToday, activeUsersQuery, []any{dbTime(q.TodayStart), dbTime(q.TodayEnd)}},
			{&st.ActiveUsersInPeriod, activeUsersQuery, []any{dbTime(q.Start), dbTime(q.End)}},
			{&st.TotalConversations, "SELECT COUNT(*) FROM conversations", nil},
			{&st.TotalMessages, "SELECT COUNT(*) FROM messages", nil},
			{&st.UsersWithChats, "SELECT COUNT(DISTINCT owner_id) FROM conversations WHERE owner_id IS NOT NULL", nil},
		}
		for _, c := range counts {
			if err := tx.GetContext(ctx, c.dst, c.query, c.args...); err != nil {
				return fmt.Errorf("failed to count: %w", err)
			}
		}

		st.TopRegions = []RegionCount{}
		err := tx.SelectContext(ctx, &st.TopRegions,
			`SELECT region, COUNT(*) AS count FROM users
			WHERE region IS NOT NULL AND region != ''
			GROUP BY region ORDER BY count DESC, region ASC LIMIT ?`, q.TopRegions)
		if err != nil {
			return fmt.Errorf("failed to query regions: %w", err)
		}

		err = tx.SelectContext(ctx, &st.NewUsersByDay,
			`SELECT substr(created_at, 1, 10) AS day, COUNT(*) AS count FROM users
			WHERE created_at >= ? AND created_at < ? GROUP BY day ORDER BY day`,
			dbTime(q.Start), dbTime(q.End))
		if err != nil {
			return fmt.Errorf("failed to query daily new users: %w", err)
		}

		err = tx.SelectContext(ctx, &st.ActiveUsersByDay,
			`SELECT substr(m.timestamp, 1, 10) AS day, COUNT(DISTINCT c.owner_id) AS count FROM messages m
			JOIN conversations c ON c.id = m.conversation_id
			WHERE m.role = 'user' AND c.owner_id IS NOT NULL AND m.timestamp >= ? AND m.timestamp < ?
			GROUP BY day ORDER BY day`,
			dbTime(q.Start), dbTime(q.End))
		if err != nil {
			return fmt.Errorf("failed to query daily active users: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}
