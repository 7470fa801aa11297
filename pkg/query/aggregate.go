package query

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/0xmhha/token-rollup/pkg/parser"
)

// Dimension names a row attribute to group by.
type Dimension string

const (
	// DimAgent groups by resolved agent name.
	DimAgent Dimension = "agent"

	// DimProject groups by project path.
	DimProject Dimension = "project"

	// DimSession groups by session id.
	DimSession Dimension = "session"

	// DimProvider groups by provider tag.
	DimProvider Dimension = "provider"
)

// Summary holds summed token counts.
type Summary struct {
	TokensIn         int64 `json:"tokens_in"`
	TokensOut        int64 `json:"tokens_out"`
	CacheReadTokens  int64 `json:"cache_read_tokens"`
	CacheWriteTokens int64 `json:"cache_write_tokens"`
	EventCount       int64 `json:"event_count"`
	Buckets          int   `json:"buckets"`
}

// Total returns input plus output tokens.
func (s Summary) Total() int64 {
	return s.TokensIn + s.TokensOut
}

func (s *Summary) add(r Row) {
	s.TokensIn += r.TokensIn
	s.TokensOut += r.TokensOut
	s.CacheReadTokens += r.CacheReadTokens
	s.CacheWriteTokens += r.CacheWriteTokens
	s.EventCount += r.EventCount
	s.Buckets++
}

// Totals sums rows.
func Totals(rows []Row) Summary {
	var s Summary
	for _, r := range rows {
		s.add(r)
	}
	return s
}

// Point is the sum of all rows sharing one bucket start.
type Point struct {
	BucketStart time.Time `json:"bucket_start"`
	Summary
}

// Series sums rows per bucket start, oldest first. Buckets with no rows
// are not filled in.
func Series(rows []Row) []Point {
	grouped := lo.GroupBy(rows, func(r Row) int64 { return r.BucketStart.Unix() })

	points := make([]Point, 0, len(grouped))
	for _, group := range grouped {
		p := Point{BucketStart: group[0].BucketStart}
		for _, r := range group {
			p.add(r)
		}
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].BucketStart.Before(points[j].BucketStart)
	})
	return points
}

// Group is the sum of all rows sharing one dimension value.
type Group struct {
	Key string `json:"key"`
	Summary
}

// GroupBy sums rows per value of dim, largest total first. Ties are
// ordered by key.
func GroupBy(rows []Row, dim Dimension) []Group {
	grouped := lo.GroupBy(rows, func(r Row) string { return dim.value(r) })

	groups := make([]Group, 0, len(grouped))
	for key, members := range grouped {
		g := Group{Key: key}
		for _, r := range members {
			g.add(r)
		}
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Total() != groups[j].Total() {
			return groups[i].Total() > groups[j].Total()
		}
		return groups[i].Key < groups[j].Key
	})
	return groups
}

// SessionSummary is the usage of one session.
type SessionSummary struct {
	SessionID   string            `json:"session_id"`
	AgentName   string            `json:"agent_name"`
	ProjectPath string            `json:"project_path,omitempty"`
	Providers   []parser.Provider `json:"providers"`
	FirstBucket time.Time         `json:"first_bucket"`
	LastBucket  time.Time         `json:"last_bucket"`
	Summary
}

// TopSessions returns the n sessions with the most tokens. n <= 0 returns
// all sessions.
func TopSessions(rows []Row, n int) []SessionSummary {
	grouped := lo.GroupBy(rows, func(r Row) string { return r.SessionID })

	sessions := make([]SessionSummary, 0, len(grouped))
	for id, members := range grouped {
		s := SessionSummary{
			SessionID:   id,
			AgentName:   members[0].AgentName,
			ProjectPath: members[0].ProjectPath,
			FirstBucket: members[0].BucketStart,
			LastBucket:  members[0].BucketStart,
		}
		for _, r := range members {
			s.add(r)
			if r.BucketStart.Before(s.FirstBucket) {
				s.FirstBucket = r.BucketStart
			}
			if r.BucketStart.After(s.LastBucket) {
				s.LastBucket = r.BucketStart
			}
		}
		s.Providers = lo.Uniq(lo.Map(members, func(r Row, _ int) parser.Provider { return r.Provider }))
		sort.Slice(s.Providers, func(i, j int) bool { return s.Providers[i] < s.Providers[j] })
		sessions = append(sessions, s)
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Total() != sessions[j].Total() {
			return sessions[i].Total() > sessions[j].Total()
		}
		return sessions[i].SessionID < sessions[j].SessionID
	})
	if n > 0 && len(sessions) > n {
		sessions = sessions[:n]
	}
	return sessions
}

func (d Dimension) value(r Row) string {
	switch d {
	case DimAgent:
		return r.AgentName
	case DimProject:
		return r.ProjectPath
	case DimSession:
		return r.SessionID
	case DimProvider:
		return string(r.Provider)
	default:
		return ""
	}
}

// ParseDimension validates a dimension name.
func ParseDimension(s string) (Dimension, bool) {
	d := Dimension(s)
	switch d {
	case DimAgent, DimProject, DimSession, DimProvider:
		return d, true
	}
	return "", false
}
