package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/klppl/nostrelay/internal/relay"
)

// SQLIndex is the secondary Query Repository backend this repo ships: a
// plain-SQL document store shaped like the OpenSearch documents described
// in §6, rather than an actual search-engine client (none exists anywhere
// in the reference pack). It is deliberately a separate database/table
// space from the primary store's SQLStore so the two capability interfaces
// (EventStore vs QueryRepository) stay genuinely independent, per §9's
// "never a single do-everything interface" note.
type SQLIndex struct {
	db      *sql.DB
	driver  string
	ph      func(n int) string
	timeout time.Duration
}

// Open opens (and migrates) a secondary index database.
func Open(databaseURL string) (*SQLIndex, error) {
	driver, dsn := detectIndexDriver(databaseURL)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &QueryError{Kind: ErrConnection, Err: err}
	}
	if err := db.Ping(); err != nil {
		return nil, &QueryError{Kind: ErrConnection, Err: err}
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(4)
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA synchronous=NORMAL",
		} {
			if _, err := db.Exec(pragma); err != nil {
				return nil, &QueryError{Kind: ErrConnection, Err: err}
			}
		}
	}
	idx := &SQLIndex{db: db, driver: driver, ph: newPlaceholderFunc(driver), timeout: 5 * time.Second}
	if err := idx.migrate(); err != nil {
		return nil, err
	}
	return idx, nil
}

var indexMigrations = []string{
	`CREATE TABLE IF NOT EXISTS index_documents (
		id         TEXT PRIMARY KEY,
		pubkey     TEXT NOT NULL,
		kind       INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		event_json TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS index_documents_pubkey ON index_documents(pubkey)`,
	`CREATE INDEX IF NOT EXISTS index_documents_kind ON index_documents(kind)`,
	`CREATE INDEX IF NOT EXISTS index_documents_created_at ON index_documents(created_at)`,
	`CREATE TABLE IF NOT EXISTS index_tags (
		doc_id    TEXT NOT NULL,
		tag_name  TEXT NOT NULL,
		tag_value TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS index_tags_doc_id ON index_tags(doc_id)`,
	`CREATE INDEX IF NOT EXISTS index_tags_lookup ON index_tags(tag_name, tag_value)`,
}

func (idx *SQLIndex) migrate() error {
	slog.Info("running secondary index migrations", "driver", idx.driver)
	for _, m := range indexMigrations {
		if _, err := idx.db.Exec(m); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return &QueryError{Kind: ErrConnection, Err: fmt.Errorf("migration failed: %w\nSQL: %s", err, m)}
		}
	}
	return nil
}

func (idx *SQLIndex) Close() error { return idx.db.Close() }

// DeleteAll drops every document, used by the rebuilder's optional
// delete-before-rebuild mode (§4.14, §9 "destructive; guard behind explicit
// configuration").
func (idx *SQLIndex) DeleteAll(ctx context.Context) error {
	if _, err := idx.db.ExecContext(ctx, `DELETE FROM index_tags`); err != nil {
		return &QueryError{Kind: ErrQuery, Err: err}
	}
	if _, err := idx.db.ExecContext(ctx, `DELETE FROM index_documents`); err != nil {
		return &QueryError{Kind: ErrQuery, Err: err}
	}
	return nil
}

// Upsert implements Writer.Upsert, idempotent per §4.13/§9.
func (idx *SQLIndex) Upsert(doc Document) error {
	ctx, cancel := context.WithTimeout(context.Background(), idx.timeout)
	defer cancel()

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return &QueryError{Kind: ErrConnection, Err: err}
	}
	defer tx.Rollback()

	var upsertQ string
	if idx.driver == "sqlite" {
		upsertQ = fmt.Sprintf(`INSERT INTO index_documents (id, pubkey, kind, created_at, event_json)
			VALUES (%s)
			ON CONFLICT(id) DO UPDATE SET pubkey=excluded.pubkey, kind=excluded.kind,
				created_at=excluded.created_at, event_json=excluded.event_json`, idx.placeholders(5))
	} else {
		upsertQ = fmt.Sprintf(`INSERT INTO index_documents (id, pubkey, kind, created_at, event_json)
			VALUES (%s)
			ON CONFLICT(id) DO UPDATE SET pubkey=EXCLUDED.pubkey, kind=EXCLUDED.kind,
				created_at=EXCLUDED.created_at, event_json=EXCLUDED.event_json`, idx.placeholders(5))
	}
	if _, err := tx.ExecContext(ctx, upsertQ, doc.ID, doc.PubKey, doc.Kind, doc.CreatedAt, doc.EventJSON); err != nil {
		return &QueryError{Kind: ErrQuery, Err: err}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM index_tags WHERE doc_id = `+idx.ph(1), doc.ID); err != nil {
		return &QueryError{Kind: ErrQuery, Err: err}
	}
	tagQ := `INSERT INTO index_tags (doc_id, tag_name, tag_value) VALUES (` + idx.placeholders(3) + `)`
	for letter, values := range doc.Tags {
		for _, v := range values {
			if _, err := tx.ExecContext(ctx, tagQ, doc.ID, letter, v); err != nil {
				return &QueryError{Kind: ErrQuery, Err: err}
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return &QueryError{Kind: ErrQuery, Err: err}
	}
	return nil
}

// DeleteByID implements Writer.DeleteByID. A missing document is treated as
// success (§9: the source's secondary-index delete path returns success on
// a missing document; the intent is idempotence, preserved here).
func (idx *SQLIndex) DeleteByID(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), idx.timeout)
	defer cancel()
	if _, err := idx.db.ExecContext(ctx, `DELETE FROM index_tags WHERE doc_id = `+idx.ph(1), id); err != nil {
		return &QueryError{Kind: ErrQuery, Err: err}
	}
	if _, err := idx.db.ExecContext(ctx, `DELETE FROM index_documents WHERE id = `+idx.ph(1), id); err != nil {
		return &QueryError{Kind: ErrQuery, Err: err}
	}
	return nil
}

// Query implements QueryRepository.Query: translate filters into a
// backend-neutral plan, then render one SQL statement and union the
// per-filter predicates with OR semantics (§4.6, §9).
func (idx *SQLIndex) Query(filters []*relay.Filter, limit int) ([]*relay.Event, *QueryError) {
	ctx, cancel := context.WithTimeout(context.Background(), idx.timeout)
	defer cancel()

	where, args := renderFilters(filters, idx.ph)
	q := `SELECT DISTINCT d.id, d.event_json, d.created_at FROM index_documents d`
	if where != "" {
		q += " WHERE " + where
	}
	q += ` ORDER BY d.created_at DESC, d.id ASC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := idx.db.QueryContext(ctx, q, args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &QueryError{Kind: ErrTimeout, Err: err}
		}
		return nil, &QueryError{Kind: ErrQuery, Err: err}
	}
	defer rows.Close()

	var out []*relay.Event
	for rows.Next() {
		var id, eventJSON string
		var createdAt int64
		if err := rows.Scan(&id, &eventJSON, &createdAt); err != nil {
			return nil, &QueryError{Kind: ErrDeserialization, Err: err}
		}
		var e relay.Event
		if err := json.Unmarshal([]byte(eventJSON), &e); err != nil {
			return nil, &QueryError{Kind: ErrDeserialization, Err: err}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Kind: ErrQuery, Err: err}
	}
	return out, nil
}

// plan is the backend-neutral intermediate query object for a single filter,
// built once and then rendered against whichever SQL dialect is live (§9's
// "pure function from a Filter set to an intermediate query object, then a
// backend-specific render").
type plan struct {
	ids      []string
	authors  []string
	kinds    []int
	since    *int64
	until    *int64
	tagConds map[string][]string
}

func planFromFilter(f *relay.Filter) plan {
	p := plan{ids: f.IDs, authors: f.Authors, kinds: f.Kinds}
	if f.Since != nil {
		v := int64(*f.Since)
		p.since = &v
	}
	if f.Until != nil {
		v := int64(*f.Until)
		p.until = &v
	}
	if len(f.Tags) > 0 {
		p.tagConds = map[string][]string(f.Tags)
	}
	return p
}

// renderFilters renders the OR-of-ANDs SQL WHERE fragment for a filter list.
// A filter with no predicates at all matches every document, which
// short-circuits the whole expression to "match everything" (empty string).
func renderFilters(filters []*relay.Filter, ph func(int) string) (string, []interface{}) {
	if len(filters) == 0 {
		return "", nil
	}
	var clauses []string
	var args []interface{}

	for _, f := range filters {
		p := planFromFilter(f)
		var conds []string

		if len(p.ids) > 0 {
			conds = append(conds, inClause("d.id", p.ids, ph, &args))
		}
		if len(p.authors) > 0 {
			conds = append(conds, inClause("d.pubkey", p.authors, ph, &args))
		}
		if len(p.kinds) > 0 {
			kindsStr := make([]string, len(p.kinds))
			for i, k := range p.kinds {
				kindsStr[i] = fmt.Sprintf("%d", k)
			}
			conds = append(conds, fmt.Sprintf("d.kind IN (%s)", strings.Join(kindsStr, ",")))
		}
		if p.since != nil {
			args = append(args, *p.since)
			conds = append(conds, fmt.Sprintf("d.created_at >= %s", ph(len(args))))
		}
		if p.until != nil {
			args = append(args, *p.until)
			conds = append(conds, fmt.Sprintf("d.created_at <= %s", ph(len(args))))
		}
		for letter, values := range p.tagConds {
			if len(values) == 0 {
				continue
			}
			// The letter is bound before the values because it precedes them
			// in the rendered SQL, which positional "?" placeholders require.
			args = append(args, letter)
			letterPh := ph(len(args))
			valuePlaceholders := make([]string, len(values))
			for i, v := range values {
				args = append(args, v)
				valuePlaceholders[i] = ph(len(args))
			}
			conds = append(conds, fmt.Sprintf(
				"EXISTS (SELECT 1 FROM index_tags it WHERE it.doc_id = d.id AND it.tag_name = %s AND it.tag_value IN (%s))",
				letterPh, strings.Join(valuePlaceholders, ","),
			))
		}

		if len(conds) == 0 {
			return "", nil
		}
		clauses = append(clauses, "("+strings.Join(conds, " AND ")+")")
	}
	return strings.Join(clauses, " OR "), args
}

// inClause appends values to args and returns a rendered "col IN (...)"
// fragment using the driver-appropriate placeholders.
func inClause(col string, values []string, ph func(int) string, args *[]interface{}) string {
	placeholders := make([]string, len(values))
	for i, v := range values {
		*args = append(*args, v)
		placeholders[i] = ph(len(*args))
	}
	return fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ","))
}

func newPlaceholderFunc(driver string) func(n int) string {
	if driver == "postgres" {
		return func(n int) string { return fmt.Sprintf("$%d", n) }
	}
	return func(int) string { return "?" }
}

func (idx *SQLIndex) placeholders(n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = idx.ph(i + 1)
	}
	return strings.Join(parts, ", ")
}

func detectIndexDriver(u string) (driver, dsn string) {
	if strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://") {
		return "postgres", u
	}
	if strings.HasPrefix(u, "sqlite://") {
		return "sqlite", strings.TrimPrefix(u, "sqlite://")
	}
	return "sqlite", u
}
