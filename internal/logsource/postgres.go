package logsource

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/lib/pq"
	"github.com/tidwall/gjson"

	"github.com/shortontech/gotriage/internal/event"
)

// PGSource reads recent access-log rows from a Postgres table.
type PGSource struct {
	db    *sql.DB
	table string
	limit int
	query string
}

var tableNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// validateTableName rejects anything that is not a plain Postgres identifier.
func validateTableName(name string) error {
	if !tableNameRe.MatchString(name) {
		return fmt.Errorf("invalid table name: %q", name)
	}
	return nil
}

// NewPGSourceWithDB wraps an open database handle. The table must already
// exist with columns id, endpoint, response_code, params, body, user_id and
// user_agent.
func NewPGSourceWithDB(db *sql.DB, table string, limit int) (*PGSource, error) {
	if err := validateTableName(table); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 500
	}
	q := fmt.Sprintf(
		`SELECT endpoint, response_code, params, body, user_id, user_agent FROM %s ORDER BY id DESC LIMIT $1`,
		pq.QuoteIdentifier(table),
	)
	return &PGSource{db: db, table: table, limit: limit, query: q}, nil
}

func (s *PGSource) Name() string { return "postgres" }

// Fetch returns the newest rows, oldest first.
func (s *PGSource) Fetch(ctx context.Context) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, s.query, s.limit)
	if err != nil {
		return nil, fetchErr("query "+s.table, err)
	}
	defer rows.Close()

	events := make([]event.Event, 0, s.limit)
	for rows.Next() {
		var (
			endpoint, userAgent sql.NullString
			code, userID        sql.NullInt64
			params, body        []byte
		)
		if err := rows.Scan(&endpoint, &code, &params, &body, &userID, &userAgent); err != nil {
			return nil, fetchErr("scan "+s.table, err)
		}

		ev := event.Event{
			Endpoint:     endpoint.String,
			ResponseCode: int(code.Int64),
			Params:       columnPayload(params),
			Body:         columnPayload(body),
			UserAgent:    userAgent.String,
		}
		if userID.Valid {
			id := userID.Int64
			ev.UserID = &id
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fetchErr("iterate "+s.table, err)
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (s *PGSource) Close() error {
	return s.db.Close()
}

// columnPayload keeps a json/jsonb column as structure and any other text as
// a string.
func columnPayload(b []byte) event.Payload {
	if b == nil {
		return nil
	}
	if gjson.ValidBytes(b) {
		return event.Payload(append([]byte(nil), b...))
	}
	return event.TextPayload(string(b))
}
