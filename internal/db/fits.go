package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/banshee-data/planefit/internal/planefit"
)

// Session groups the fits of one connect/disconnect cycle.
type Session struct {
	ID            string
	Device        string
	SensorVersion int
	Started       time.Time
	Ended         time.Time // zero while open
}

// FitRecord is one stored fit attempt.
type FitRecord struct {
	ID           string
	SessionID    string
	AttemptedAt  time.Time
	FrameNanos   int64
	ScreenX      float64
	ScreenY      float64
	OK           bool
	ErrorKind    string
	ErrorMessage string
	Plane        planefit.Plane
	Duration     time.Duration
}

// FitStats summarises a session.
type FitStats struct {
	Total          int
	Succeeded      int
	Failed         int
	ByKind         map[string]int // failures only
	MeanConfidence float64        // successful fits only
	MeanRMSE       float64
}

// CreateSession starts a new session.
func (db *DB) CreateSession(device string, sensorVersion int, started time.Time) (Session, error) {
	s := Session{ID: uuid.NewString(), Device: device, SensorVersion: sensorVersion, Started: started}
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, device, sensor_version, started_unix_nanos) VALUES (?, ?, ?, ?)`,
		s.ID, s.Device, s.SensorVersion, started.UnixNano(),
	)
	if err != nil {
		return Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	return s, nil
}

// EndSession stamps the end time of a session.
func (db *DB) EndSession(id string, ended time.Time) error {
	res, err := db.Exec(`UPDATE sessions SET ended_unix_nanos = ? WHERE session_id = ?`, ended.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// GetSession loads a session by ID.
func (db *DB) GetSession(id string) (Session, error) {
	var s Session
	var started int64
	var ended sql.NullInt64
	err := db.QueryRow(
		`SELECT session_id, device, sensor_version, started_unix_nanos, ended_unix_nanos FROM sessions WHERE session_id = ?`, id,
	).Scan(&s.ID, &s.Device, &s.SensorVersion, &started, &ended)
	if err != nil {
		return Session{}, fmt.Errorf("session %s: %w", id, err)
	}
	s.Started = time.Unix(0, started)
	if ended.Valid {
		s.Ended = time.Unix(0, ended.Int64)
	}
	return s, nil
}

// RecordFit stores a fit attempt under sessionID and returns its ID.
func (db *DB) RecordFit(sessionID string, a planefit.Attempt) (string, error) {
	id := uuid.NewString()
	msg := ""
	if a.Err != nil {
		msg = a.Err.Error()
	}
	p := a.Plane
	_, err := db.Exec(
		`INSERT INTO fits (
			fit_id, session_id, attempted_unix_nanos, frame_unix_nanos, screen_x, screen_y,
			ok, error_kind, error_message,
			anchor_x, anchor_y, anchor_z, normal_x, normal_y, normal_z,
			inliers, candidates, confidence, rmse, duration_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sessionID, a.At.UnixNano(), a.FrameTimestampNanos, a.ScreenX, a.ScreenY,
		a.OK(), a.Kind(), msg,
		p.Anchor[0], p.Anchor[1], p.Anchor[2], p.Normal[0], p.Normal[1], p.Normal[2],
		p.Inliers, p.Candidates, p.Confidence, p.RMSE, a.Duration.Nanoseconds(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert fit: %w", err)
	}
	return id, nil
}

// ListFits returns the most recent fits of a session, newest first. A
// non-positive limit returns all of them.
func (db *DB) ListFits(sessionID string, limit int) ([]FitRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(
		`SELECT fit_id, session_id, attempted_unix_nanos, frame_unix_nanos, screen_x, screen_y,
			ok, error_kind, error_message,
			anchor_x, anchor_y, anchor_z, normal_x, normal_y, normal_z,
			inliers, candidates, confidence, rmse, duration_nanos
		FROM fits WHERE session_id = ?
		ORDER BY attempted_unix_nanos DESC, rowid DESC
		LIMIT ?`, sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query fits: %w", err)
	}
	defer rows.Close()

	var out []FitRecord
	for rows.Next() {
		var r FitRecord
		var attempted, duration int64
		var a, n [3]float64
		if err := rows.Scan(
			&r.ID, &r.SessionID, &attempted, &r.FrameNanos, &r.ScreenX, &r.ScreenY,
			&r.OK, &r.ErrorKind, &r.ErrorMessage,
			&a[0], &a[1], &a[2], &n[0], &n[1], &n[2],
			&r.Plane.Inliers, &r.Plane.Candidates, &r.Plane.Confidence, &r.Plane.RMSE, &duration,
		); err != nil {
			return nil, fmt.Errorf("failed to scan fit: %w", err)
		}
		r.AttemptedAt = time.Unix(0, attempted)
		r.Duration = time.Duration(duration)
		r.Plane.Anchor = mgl64.Vec3(a)
		r.Plane.Normal = mgl64.Vec3(n)
		r.Plane.FrameTimestampNanos = r.FrameNanos
		out = append(out, r)
	}
	return out, rows.Err()
}

// FitStats aggregates the fits of a session.
func (db *DB) FitStats(sessionID string) (FitStats, error) {
	st := FitStats{ByKind: map[string]int{}}
	var meanConf, meanRMSE sql.NullFloat64
	err := db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(ok), 0),
			AVG(CASE WHEN ok = 1 THEN confidence END),
			AVG(CASE WHEN ok = 1 THEN rmse END)
		FROM fits WHERE session_id = ?`, sessionID,
	).Scan(&st.Total, &st.Succeeded, &meanConf, &meanRMSE)
	if err != nil {
		return FitStats{}, fmt.Errorf("failed to aggregate fits: %w", err)
	}
	st.Failed = st.Total - st.Succeeded
	st.MeanConfidence = meanConf.Float64
	st.MeanRMSE = meanRMSE.Float64

	rows, err := db.Query(
		`SELECT error_kind, COUNT(*) FROM fits WHERE session_id = ? AND ok = 0 GROUP BY error_kind ORDER BY error_kind`,
		sessionID,
	)
	if err != nil {
		return FitStats{}, fmt.Errorf("failed to group failures: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return FitStats{}, err
		}
		st.ByKind[kind] = n
	}
	return st, rows.Err()
}

// Recorder writes attempts into one session. It satisfies the
// controller's FitRecorder.
type Recorder struct {
	DB        *DB
	SessionID string
}

// RecordFit stores a under the recorder's session, discarding the row ID.
func (r Recorder) RecordFit(a planefit.Attempt) error {
	_, err := r.DB.RecordFit(r.SessionID, a)
	return err
}
