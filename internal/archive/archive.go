// Package archive keeps a SQLite index of every frame the device persists,
// together with the detections that triggered it. It exists so a field visit
// can answer "what was recorded, when" without scanning the image directory.
package archive

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/icr-ctl/scrubcam/internal/vision"
)

// Archive wraps the SQLite database holding frame and detection records.
type Archive struct {
	db *sql.DB
}

// FrameRecord is one archived frame row.
type FrameRecord struct {
	ID       int64     `json:"id"`
	FilePath string    `json:"filepath"`
	TakenAt  time.Time `json:"taken_at"`
	TopClass string    `json:"top_class"`
}

// Open creates or opens the archive database and runs migrations.
func Open(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate archive database: %w", err)
	}
	return a, nil
}

// migrate creates the necessary tables if they don't exist.
func (a *Archive) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS frames (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filepath TEXT NOT NULL,
		taken_at DATETIME NOT NULL,
		top_class TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS detections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		frame_id INTEGER NOT NULL,
		class_name TEXT NOT NULL,
		confidence REAL NOT NULL,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		FOREIGN KEY(frame_id) REFERENCES frames(id)
	);

	CREATE INDEX IF NOT EXISTS idx_frames_taken_at ON frames(taken_at);
	CREATE INDEX IF NOT EXISTS idx_detections_frame ON detections(frame_id);
	`

	_, err := a.db.Exec(schema)
	return err
}

// RecordFrame inserts one persisted frame and its labeled boxes in a single
// transaction and returns the frame's row id.
func (a *Archive) RecordFrame(path string, takenAt time.Time, lboxes []vision.Detection) (int64, error) {
	topClass := "none"
	if len(lboxes) > 0 {
		topClass = lboxes[0].ClassName
	}

	tx, err := a.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		"INSERT INTO frames (filepath, taken_at, top_class) VALUES (?, ?, ?)",
		path, takenAt, topClass,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert frame: %w", err)
	}
	frameID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get frame id: %w", err)
	}

	for _, lbox := range lboxes {
		_, err := tx.Exec(
			"INSERT INTO detections (frame_id, class_name, confidence, x, y, width, height) VALUES (?, ?, ?, ?, ?, ?, ?)",
			frameID, lbox.ClassName, lbox.Confidence, lbox.Box.X, lbox.Box.Y, lbox.Box.Width, lbox.Box.Height,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit frame record: %w", err)
	}
	return frameID, nil
}

// Detections returns the labeled boxes recorded for a frame, ordered by
// descending confidence.
func (a *Archive) Detections(frameID int64) ([]vision.Detection, error) {
	rows, err := a.db.Query(
		"SELECT class_name, confidence, x, y, width, height FROM detections WHERE frame_id = ? ORDER BY confidence DESC",
		frameID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var lboxes []vision.Detection
	for rows.Next() {
		var d vision.Detection
		if err := rows.Scan(&d.ClassName, &d.Confidence, &d.Box.X, &d.Box.Y, &d.Box.Width, &d.Box.Height); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		lboxes = append(lboxes, d)
	}
	return lboxes, rows.Err()
}

// RecentFrames returns the most recently captured frame records, newest first.
func (a *Archive) RecentFrames(limit int) ([]FrameRecord, error) {
	rows, err := a.db.Query(
		"SELECT id, filepath, taken_at, top_class FROM frames ORDER BY taken_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	var records []FrameRecord
	for rows.Next() {
		var r FrameRecord
		if err := rows.Scan(&r.ID, &r.FilePath, &r.TakenAt, &r.TopClass); err != nil {
			return nil, fmt.Errorf("failed to scan frame record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}
