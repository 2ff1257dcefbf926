package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/quickassist/internal/model"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("history entry not found")

// MinRating and MaxRating bound review ratings.
const (
	MinRating = 1
	MaxRating = 5
)

// Entry is one engagement record.
type Entry struct {
	ID           string              `json:"id"`
	Seq          int64               `json:"seq"`
	ProviderName string              `json:"providerName"`
	Category     string              `json:"category"`
	CreatedAt    time.Time           `json:"createdAt"`
	Status       model.HistoryStatus `json:"status"`
	Rating       *int                `json:"rating,omitempty"`
	ReviewText   string              `json:"reviewText,omitempty"`
}

// Reviewable reports whether a review may still be attached.
func (e Entry) Reviewable() bool {
	return e.Status == model.StatusCompleted && e.Rating == nil
}

// Record appends a new entry at the head of the ledger.
func (l *Ledger) Record(ctx context.Context, providerName, category string, status model.HistoryStatus) (Entry, error) {
	if !status.Valid() {
		return Entry{}, fmt.Errorf("record history: invalid status %q", status)
	}

	e := Entry{
		ID:           l.ids.Generate(),
		Seq:          l.clock.Next(),
		ProviderName: strings.TrimSpace(providerName),
		Category:     strings.TrimSpace(category),
		CreatedAt:    l.now().UTC(),
		Status:       status,
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO history_entries
		(id, seq, provider_name, category, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.Seq,
		e.ProviderName,
		e.Category,
		string(e.Status),
		e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("record history: %w", err)
	}
	return e, nil
}

// Remove deletes the entry with id. Removing an unknown id is a no-op.
func (l *Ledger) Remove(ctx context.Context, id string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM history_entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove history: %w", err)
	}
	return nil
}

// AttachReview stores a rating and review text on a completed, unrated
// entry. Calls outside that contract (bad rating, wrong status, already
// rated, unknown id) change nothing and report false.
func (l *Ledger) AttachReview(ctx context.Context, id string, rating int, text string) (bool, error) {
	if rating < MinRating || rating > MaxRating {
		return false, nil
	}

	// The WHERE clause is the eligibility check, so check-and-set is one statement.
	res, err := l.db.ExecContext(ctx, `
		UPDATE history_entries
		SET rating = ?, review_text = ?
		WHERE id = ? AND status = ? AND rating IS NULL
	`, rating, strings.TrimSpace(text), id, string(model.StatusCompleted))
	if err != nil {
		return false, fmt.Errorf("attach review: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("attach review: rows affected: %w", err)
	}
	return n == 1, nil
}

// Get returns one entry or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, id string) (Entry, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, seq, provider_name, category, status, created_at, rating, review_text
		FROM history_entries
		WHERE id = ?
	`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// List returns every entry, newest first.
//
// Returns an empty slice (not nil) when the ledger is empty.
func (l *Ledger) List(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, seq, provider_name, category, status, created_at, rating, review_text
		FROM history_entries
		ORDER BY seq DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// Len returns the number of entries.
func (l *Ledger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e         Entry
		status    string
		createdAt string
		rating    sql.NullInt64
		review    sql.NullString
	)
	if err := s.Scan(&e.ID, &e.Seq, &e.ProviderName, &e.Category, &status, &createdAt, &rating, &review); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan history entry: %w", err)
	}
	e.Status = model.HistoryStatus(status)
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("scan history entry %s: created_at: %w", e.ID, err)
	}
	e.CreatedAt = t
	if rating.Valid {
		r := int(rating.Int64)
		e.Rating = &r
	}
	if review.Valid {
		e.ReviewText = review.String
	}
	return e, nil
}
