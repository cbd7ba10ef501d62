package handler

import (
	"time"

	"growth-tracker/backend/internal/growth"
	"growth-tracker/backend/internal/snapshot/domain"
	"growth-tracker/backend/internal/tracking/batch"
	"growth-tracker/backend/internal/tracking/service"
)

type metricsDTO struct {
	FollowerCount  int64 `json:"followerCount"`
	FollowingCount int64 `json:"followingCount"`
	MediaCount     int64 `json:"mediaCount"`
}

type snapshotDTO struct {
	ID         string    `json:"id"`
	RecordedAt time.Time `json:"recordedAt"`
	metricsDTO
}

type windowDTO struct {
	Days               int       `json:"days"`
	BaselineAt         time.Time `json:"baselineAt"`
	FollowerDelta      int64     `json:"followerDelta"`
	FollowingDelta     int64     `json:"followingDelta"`
	MediaDelta         int64     `json:"mediaDelta"`
	FollowerGrowthRate float64   `json:"followerGrowthRate"`
}

type growthDTO struct {
	DaysTracked     int         `json:"daysTracked"`
	FirstRecordedAt time.Time   `json:"firstRecordedAt"`
	LastRecordedAt  time.Time   `json:"lastRecordedAt"`
	Current         metricsDTO  `json:"current"`
	Windows         []windowDTO `json:"windows"`
	Total           windowDTO   `json:"total"`
}

type refreshResponse struct {
	Username     string       `json:"username"`
	Metrics      metricsDTO   `json:"metrics"`
	Snapshot     *snapshotDTO `json:"snapshot"`
	Persisted    bool         `json:"persisted"`
	Cached       bool         `json:"cached"`
	StorageError string       `json:"storageError,omitempty"`
	IsNewUser    bool         `json:"isNewUser"`
	Growth       *growthDTO   `json:"growth"`
}

type historyPointDTO struct {
	RecordedAt time.Time `json:"recordedAt"`
	metricsDTO
}

type historyResponse struct {
	Username string            `json:"username"`
	Days     int               `json:"days"`
	Points   []historyPointDTO `json:"points"`
}

type growthResponse struct {
	Username      string     `json:"username"`
	SnapshotCount int        `json:"snapshotCount"`
	IsNewUser     bool       `json:"isNewUser"`
	Growth        *growthDTO `json:"growth"`
}

type batchResponse struct {
	Success bool `json:"success"`
	*batch.Result
	Error string `json:"error,omitempty"`
}

func toMetrics(m domain.Metrics) metricsDTO {
	return metricsDTO{FollowerCount: m.FollowerCount, FollowingCount: m.FollowingCount, MediaCount: m.MediaCount}
}

func toWindow(w growth.Window) windowDTO {
	return windowDTO{
		Days:               w.Days,
		BaselineAt:         w.BaselineAt,
		FollowerDelta:      w.FollowerDelta,
		FollowingDelta:     w.FollowingDelta,
		MediaDelta:         w.MediaDelta,
		FollowerGrowthRate: w.FollowerGrowthRate,
	}
}

func toGrowth(st *growth.Stats) *growthDTO {
	if st == nil {
		return nil
	}
	out := &growthDTO{
		DaysTracked:     st.DaysTracked,
		FirstRecordedAt: st.FirstRecordedAt,
		LastRecordedAt:  st.LastRecordedAt,
		Current:         toMetrics(st.Current),
		Windows:         make([]windowDTO, 0, len(st.Windows)),
		Total:           toWindow(st.Total),
	}
	for _, w := range st.Windows {
		out.Windows = append(out.Windows, toWindow(w))
	}
	return out
}

func toRefresh(res *service.RefreshResult) refreshResponse {
	out := refreshResponse{
		Username:     res.Username,
		Metrics:      toMetrics(res.Metrics),
		Persisted:    res.Persisted,
		Cached:       res.Cached,
		StorageError: res.StorageError,
		IsNewUser:    res.IsNewUser,
		Growth:       toGrowth(res.Growth),
	}
	if s := res.Snapshot; s != nil {
		out.Snapshot = &snapshotDTO{
			ID:         formatID(s.ID),
			RecordedAt: s.RecordedAt,
			metricsDTO: toMetrics(s.Metrics()),
		}
	}
	return out
}

func toHistory(username string, days int, points []service.HistoryPoint) historyResponse {
	out := historyResponse{Username: username, Days: days, Points: make([]historyPointDTO, 0, len(points))}
	for _, p := range points {
		out.Points = append(out.Points, historyPointDTO{
			RecordedAt: p.RecordedAt,
			metricsDTO: metricsDTO{FollowerCount: p.FollowerCount, FollowingCount: p.FollowingCount, MediaCount: p.MediaCount},
		})
	}
	return out
}
