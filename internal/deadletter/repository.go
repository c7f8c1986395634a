package deadletter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// timeFormat is fixed width so created_at sorts and compares as text.
	timeFormat = "2006-01-02T15:04:05.000000000Z"
)

// SQLiteRepository stores letters in the dead_letters table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a letter. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, letter *Letter) error {
	if letter.ID == "" {
		letter.ID = "dl-" + uuid.NewString()
	}
	if letter.CreatedAt.IsZero() {
		letter.CreatedAt = time.Now().UTC()
	}

	var propsJSON *string
	if len(letter.Properties) > 0 {
		b, err := json.Marshal(letter.Properties)
		if err != nil {
			return fmt.Errorf("marshalling properties: %w", err)
		}
		s := string(b)
		propsJSON = &s
	}

	payload := letter.Payload
	if payload == nil {
		payload = []byte{}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO dead_letters (id, client_id, destination, payload, properties, correlation_tag, delivery_mode, reason, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		letter.ID, letter.ClientID, letter.Destination, payload,
		propsJSON, nullableBytes(letter.CorrelationTag),
		letter.DeliveryMode, letter.Reason, letter.Error,
		letter.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}
	return nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// List returns letters matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Destination != "" {
		conditions = append(conditions, "destination = ?")
		args = append(args, filter.Destination)
	}
	if filter.Reason != "" {
		conditions = append(conditions, "reason = ?")
		args = append(args, filter.Reason)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM dead_letters %s", where) //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting dead letters: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		`SELECT id, client_id, destination, payload, properties, correlation_tag, delivery_mode, reason, error, created_at
		 FROM dead_letters %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dead letters: %w", err)
	}
	defer rows.Close()

	letters := []Letter{}
	for rows.Next() {
		l, err := scanLetter(rows)
		if err != nil {
			return nil, err
		}
		letters = append(letters, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dead letters: %w", err)
	}

	return &ListResult{
		Letters: letters,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func scanLetter(rows *sql.Rows) (Letter, error) {
	var l Letter
	var props sql.NullString
	var tag []byte
	var createdAt string

	if err := rows.Scan(&l.ID, &l.ClientID, &l.Destination, &l.Payload, &props, &tag,
		&l.DeliveryMode, &l.Reason, &l.Error, &createdAt); err != nil {
		return Letter{}, fmt.Errorf("scanning dead letter: %w", err)
	}

	if props.Valid && props.String != "" {
		var m map[string]string
		if json.Unmarshal([]byte(props.String), &m) == nil {
			l.Properties = m
		}
	}
	if len(tag) > 0 {
		l.CorrelationTag = tag
	}

	t, err := time.Parse(timeFormat, createdAt)
	if err != nil {
		return Letter{}, fmt.Errorf("parsing dead letter timestamp %q: %w", createdAt, err)
	}
	l.CreatedAt = t
	return l, nil
}

// Purge deletes letters created before the cutoff.
//
// Returns:
//   - int64: Number of letters deleted
func (r *SQLiteRepository) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM dead_letters WHERE created_at < ?",
		before.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("purging dead letters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purging dead letters: %w", err)
	}
	return n, nil
}
