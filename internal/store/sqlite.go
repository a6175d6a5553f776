package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "formwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqlTimeLayout matches the form plugin's created_at columns.
const sqlTimeLayout = "2006-01-02 15:04:05"

// Store is the sqlite-backed persistence layer.
type Store struct {
	db  *sql.DB
	log logx.Logger

	prefix string
}

// Open opens (and if necessary creates) the database at cfg.Path.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := validPrefix(cfg.TablePrefix); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &Store{db: db, log: log, prefix: cfg.TablePrefix}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// validPrefix keeps table names safe to interpolate into SQL.
func validPrefix(p string) error {
	for _, r := range p {
		ok := r == '_' ||
			(r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9')
		if !ok {
			return fmt.Errorf("invalid table prefix %q", p)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(string(b), s.prefix))
	return err
}

func (s *Store) table(name string) string { return s.prefix + name }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecentFailures returns failed log rows created within the trailing window,
// ascending by id, each left-joined to its submission metadata. An empty
// result is not an error; a query failure means the data source is
// unavailable and the caller must abort the pass.
func (s *Store) RecentFailures(ctx context.Context, window time.Duration) ([]FailureEvent, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}

	cutoff := time.Now().UTC().Add(-window).Format(sqlTimeLayout)
	q := fmt.Sprintf(
		`SELECT l.id, l.submission_id,
		        COALESCE(l.log, ''), COALESCE(l.created_at, ''), COALESCE(l.created_at_gmt, ''),
		        COALESCE(s.referer, ''), COALESCE(s.user_agent, ''), COALESCE(s.form_name, '')
		 FROM %s l
		 LEFT JOIN %s s ON l.submission_id = s.id
		 WHERE l.status = ? AND COALESCE(l.created_at_gmt, l.created_at) >= ?
		 ORDER BY l.id ASC`,
		s.table("e_submissions_actions_log"), s.table("e_submissions"),
	)

	rows, err := s.db.QueryContext(ctx, q, "failed", cutoff)
	if err != nil {
		return nil, fmt.Errorf("query failure log: %w", err)
	}
	defer rows.Close()

	var out []FailureEvent
	for rows.Next() {
		var ev FailureEvent
		var createdAt, createdAtGMT string
		if err := rows.Scan(&ev.ID, &ev.SubmissionID, &ev.RawLog, &createdAt, &createdAtGMT,
			&ev.Referer, &ev.UserAgent, &ev.FormName); err != nil {
			return nil, fmt.Errorf("scan failure log: %w", err)
		}
		ev.CreatedAt = parseStoredTime(createdAtGMT, createdAt)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failure log: %w", err)
	}
	return out, nil
}

// parseStoredTime prefers the GMT column and accepts either the plugin's
// "2006-01-02 15:04:05" layout or RFC 3339. Returns zero time when neither
// column parses.
func parseStoredTime(gmt, local string) time.Time {
	for _, raw := range []string{gmt, local} {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if t, err := time.ParseInLocation(sqlTimeLayout, raw, time.UTC); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func markKey(eventID int64) string { return "notified_" + strconv.FormatInt(eventID, 10) }

// TryClaim atomically creates the notification mark for eventID. It returns
// true when this call created the mark (caller proceeds to notify) and false
// when the mark already existed (caller skips). The conditional insert rides
// on the primary key, so concurrent overlapping passes cannot both claim.
func (s *Store) TryClaim(ctx context.Context, eventID int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s(key, marked_at) VALUES(?, ?)
		             ON CONFLICT(key) DO NOTHING`, s.table("notified_marks")),
		markKey(eventID), time.Now().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("claim mark: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim mark: %w", err)
	}
	return n == 1, nil
}

// Release removes the mark so the event is retried on the next pass.
// Called only after a failed delivery.
func (s *Store) Release(ctx context.Context, eventID int64) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, s.table("notified_marks")),
		markKey(eventID),
	)
	if err != nil {
		return fmt.Errorf("release mark: %w", err)
	}
	return nil
}

// Marked reports whether a notification mark exists for eventID.
func (s *Store) Marked(ctx context.Context, eventID int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT 1 FROM %s WHERE key = ?`, s.table("notified_marks")),
		markKey(eventID),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FieldValues fetches the stored values for the given submission whose keys
// match the allowed list case-insensitively. The result maps lowercased keys
// to values; ordering is the caller's concern.
func (s *Store) FieldValues(ctx context.Context, submissionID int64, keys []string) (map[string]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if len(keys) == 0 {
		return map[string]string{}, nil
	}

	placeholders := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+1)
	args = append(args, submissionID)
	for _, k := range keys {
		placeholders = append(placeholders, "?")
		args = append(args, strings.ToLower(strings.TrimSpace(k)))
	}

	q := fmt.Sprintf(
		`SELECT key, COALESCE(value, '') FROM %s
		 WHERE submission_id = ? AND lower(key) IN (%s)`,
		s.table("e_submissions_values"), strings.Join(placeholders, ","),
	)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query submission values: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string, len(keys))
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan submission values: %w", err)
		}
		out[strings.ToLower(k)] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission values: %w", err)
	}
	return out, nil
}

// PageURL returns a stored source_url/referer value for the submission, or
// empty when none exists. Used when the log row itself carries no referer.
func (s *Store) PageURL(ctx context.Context, submissionID int64) (string, error) {
	if s == nil || s.db == nil {
		return "", ErrClosed
	}
	var v string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COALESCE(value, '') FROM %s
		             WHERE submission_id = ? AND key IN ('source_url', 'referer')
		             LIMIT 1`, s.table("e_submissions_values")),
		submissionID,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query page url: %w", err)
	}
	return v, nil
}
