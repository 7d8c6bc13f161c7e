package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// =====================
// Load journal
// =====================

// RecordLoad stores rec. A record whose load id already exists is ignored so
// retries stay harmless.
func (db *Database) RecordLoad(ctx context.Context, rec LoadRecord) error {
	if db == nil || db.DB == nil {
		return errors.New("database not initialized")
	}
	if strings.TrimSpace(rec.LoadID) == "" {
		return errors.New("empty load id")
	}
	if rec.LoadedAt.IsZero() {
		rec.LoadedAt = time.Now()
	}

	ph := make([]string, 13)
	for i := range ph {
		ph[i] = placeholder(db.Driver, i+1)
	}
	stmt := fmt.Sprintf(`INSERT INTO load_journal (load_id, session_id, sheet_id, manage_id, overlay_id, view_id, status, markers, skipped, categories, duration_ms, message, loaded_at)
VALUES (%s) ON CONFLICT DO NOTHING`, strings.Join(ph, ", "))

	args := []any{
		rec.LoadID, rec.Session, rec.SheetID, rec.ManageID, rec.OverlayID, rec.ViewID, rec.Status,
		int64(rec.Markers), int64(rec.Skipped), int64(rec.Categories), rec.Duration.Milliseconds(),
		rec.Message, rec.LoadedAt.Unix(),
	}
	if _, err := db.DB.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert load journal: %w", err)
	}
	return nil
}

// RecentLoads returns up to limit records, newest first.
func (db *Database) RecentLoads(ctx context.Context, limit int) ([]LoadRecord, error) {
	if db == nil || db.DB == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	query := fmt.Sprintf(`SELECT load_id, session_id, sheet_id, manage_id, overlay_id, view_id, status, markers, skipped, categories, duration_ms, message, loaded_at
FROM load_journal ORDER BY loaded_at DESC LIMIT %d`, limit)

	rows, err := db.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query load journal: %w", err)
	}
	defer rows.Close()

	out := make([]LoadRecord, 0, limit)
	for rows.Next() {
		var (
			rec                                              LoadRecord
			session, sheetID, manageID, overlayID, msg       sql.NullString
			markers, skipped, categories, durationMS, loaded sql.NullInt64
		)
		if err := rows.Scan(&rec.LoadID, &session, &sheetID, &manageID, &overlayID, &rec.ViewID, &rec.Status,
			&markers, &skipped, &categories, &durationMS, &msg, &loaded); err != nil {
			return nil, fmt.Errorf("scan load journal: %w", err)
		}
		rec.Session = session.String
		rec.SheetID = sheetID.String
		rec.ManageID = manageID.String
		rec.OverlayID = overlayID.String
		rec.Message = msg.String
		rec.Markers = int(markers.Int64)
		rec.Skipped = int(skipped.Int64)
		rec.Categories = int(categories.Int64)
		rec.Duration = time.Duration(durationMS.Int64) * time.Millisecond
		rec.LoadedAt = time.Unix(loaded.Int64, 0)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate load journal: %w", err)
	}
	return out, nil
}

// PruneLoads deletes records older than cutoff and reports how many went.
// Engines that cannot count affected rows report 0.
func (db *Database) PruneLoads(ctx context.Context, cutoff time.Time) (int64, error) {
	if db == nil || db.DB == nil {
		return 0, errors.New("database not initialized")
	}
	stmt := fmt.Sprintf(`DELETE FROM load_journal WHERE loaded_at < %s`, placeholder(db.Driver, 1))
	res, err := db.DB.ExecContext(ctx, stmt, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune load journal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}
