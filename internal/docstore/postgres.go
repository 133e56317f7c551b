package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection  TEXT NOT NULL,
	id          TEXT NOT NULL,
	data        JSONB NOT NULL,
	server_time BIGINT NOT NULL,
	seq         BIGSERIAL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_collection_time ON documents (collection, server_time);
`

// EnsureSchema creates the documents table when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, documentsSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// PostgresStore implements Store on one JSONB documents table. Server
// timestamps come from the database clock with a sequence tiebreak, so the
// per-collection order is total regardless of which API instance wrote.
type PostgresStore struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewPostgresStore wraps an open database handle. pollInterval governs how
// often subscriptions check for changes; zero means 500ms.
func NewPostgresStore(db *sql.DB, pollInterval time.Duration) *PostgresStore {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &PostgresStore{db: db, pollInterval: pollInterval}
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var (
		raw        []byte
		serverTime int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, server_time FROM documents WHERE collection=$1 AND id=$2`,
		collection, id).Scan(&raw, &serverTime)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	data, err := decodeData(raw)
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Data: data, ServerTime: serverTime}, nil
}

// splitStamps separates sentinel-valued fields from the payload, so the
// database can fill them with its own clock.
func splitStamps(data map[string]any) (map[string]any, []string) {
	rest := make(map[string]any, len(data))
	var keys []string
	for k, v := range data {
		if _, ok := v.(serverTimestamp); ok {
			keys = append(keys, k)
			continue
		}
		rest[k] = v
	}
	return rest, keys
}

func (s *PostgresStore) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.NewString()
	rest, stampKeys := splitStamps(cloneData(data))
	raw, err := json.Marshal(rest)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	// The stamp is computed once per statement so sentinel fields and the
	// server_time column carry the identical millisecond.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, server_time)
		 SELECT $1, $2,
		        $3::jsonb || COALESCE((SELECT jsonb_object_agg(k, stamp.ms) FROM unnest($4::text[]) AS k), '{}'::jsonb),
		        stamp.ms
		 FROM (SELECT (EXTRACT(EPOCH FROM clock_timestamp()) * 1000)::bigint AS ms) AS stamp`,
		collection, id, raw, stampKeys)
	if err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	rest, stampKeys := splitStamps(cloneData(patch))
	raw, err := json.Marshal(rest)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents
		 SET data = data || $3::jsonb || COALESCE((SELECT jsonb_object_agg(k, stamp.ms) FROM unnest($4::text[]) AS k), '{}'::jsonb),
		     seq = nextval('documents_seq_seq')
		 FROM (SELECT (EXTRACT(EPOCH FROM clock_timestamp()) * 1000)::bigint AS ms) AS stamp
		 WHERE collection=$1 AND id=$2`,
		collection, id, raw, stampKeys)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Subscribe polls the collection's change marker and re-reads the full
// ordered snapshot whenever it moves. Query failures surface on the error
// channel and polling continues, so a flaky connection freezes the snapshot
// stream only while the database is unreachable.
func (s *PostgresStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	snaps := make(chan []Document)
	errs := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer close(snaps)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		last := pollMarker{count: -1}
		for {
			marker, err := s.pollCollection(ctx, q.Collection)
			if err != nil {
				select {
				case errs <- err:
				default:
				}
			} else if marker != last {
				snapshot, err := s.readSnapshot(ctx, q)
				if err != nil {
					select {
					case errs <- err:
					default:
					}
				} else {
					select {
					case snaps <- snapshot:
						last = marker
					case <-done:
						return
					case <-ctx.Done():
						return
					}
				}
			}
			select {
			case <-ticker.C:
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return &Subscription{
		Snapshots: snaps,
		Errors:    errs,
		cancel:    func() { close(done) },
	}, nil
}

// pollMarker summarizes a collection's state for change detection. The
// high-water sequence alone is not enough: a write whose transaction commits
// after a concurrently assigned higher sequence was already observed never
// moves MAX(seq), so the row count is compared too.
type pollMarker struct {
	count  int64
	maxSeq int64
}

func (s *PostgresStore) pollCollection(ctx context.Context, collection string) (pollMarker, error) {
	var marker pollMarker
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(MAX(seq), 0) FROM documents WHERE collection=$1`,
		collection).Scan(&marker.count, &marker.maxSeq)
	if err != nil {
		return pollMarker{}, fmt.Errorf("poll collection: %w", err)
	}
	return marker, nil
}

func (s *PostgresStore) readSnapshot(ctx context.Context, q Query) ([]Document, error) {
	order := "ASC"
	if q.Descending {
		order = "DESC"
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, data, server_time FROM documents WHERE collection=$1 ORDER BY server_time %s, seq %s`,
		order, order), q.Collection)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			doc Document
			raw []byte
		)
		if err := rows.Scan(&doc.ID, &raw, &doc.ServerTime); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if doc.Data, err = decodeData(raw); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return docs, nil
}

// decodeData unmarshals a JSONB payload, normalizing numbers to int64 where
// they are integral so timestamp fields compare the same as in-memory writes.
func decodeData(raw []byte) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	for k, v := range data {
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			data[k] = int64(f)
		}
	}
	return data, nil
}
