// Package pgstore implements the document store on Postgres: one
// documents table with a JSONB field column, and live queries driven by a
// LISTEN/NOTIFY trigger that re-runs the subscribed query and pushes a
// full replacement snapshot on every change to the collection.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/fmarques/failforward/internal/docstore"
)

const notifyChannel = "documents_changed"

var _ docstore.Store = (*Store)(nil)

// DB is the subset of pgxpool.Pool the query paths need; pgxmock
// satisfies it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db     DB
	pool   *pgxpool.Pool // needed for dedicated LISTEN connections, nil in unit tests
	logger *slog.Logger
	now    func() time.Time
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{db: pool, pool: pool, logger: logger, now: time.Now}
}

// NewWithDB builds a store over a bare query interface. Live queries are
// unavailable without a pool; used by unit tests.
func NewWithDB(db DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger, now: time.Now}
}

func (s *Store) GetDocument(ctx context.Context, collection, id string) (docstore.Document, error) {
	ctx, span := otel.Tracer("DocStore").Start(ctx, "GetDocument", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "documents"),
		attribute.String("doc.collection", collection),
	))
	defer span.End()

	var raw []byte
	err := s.db.QueryRow(ctx,
		`SELECT fields FROM documents WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "document not found")
			return docstore.Document{}, docstore.ErrNotFound
		}
		s.logger.ErrorContext(ctx, "Failed to fetch document",
			slog.String("collection", collection), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return docstore.Document{}, &docstore.StoreError{Op: "get", Collection: collection, Err: err}
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fields decode failed")
		return docstore.Document{}, &docstore.StoreError{Op: "get", Collection: collection, Err: err}
	}

	span.SetStatus(codes.Ok, "document fetched")
	return docstore.Document{ID: id, Fields: fields}, nil
}

func (s *Store) SetDocument(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	ctx, span := otel.Tracer("DocStore").Start(ctx, "SetDocument", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "documents"),
		attribute.String("doc.collection", collection),
		attribute.Bool("doc.merge", merge),
	))
	defer span.End()

	raw, err := json.Marshal(docstore.ResolveTimestamps(fields, s.now()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fields encode failed")
		return &docstore.StoreError{Op: "set", Collection: collection, Err: err}
	}

	query := `INSERT INTO documents (collection, id, fields) VALUES ($1, $2, $3)
	          ON CONFLICT (collection, id) DO UPDATE SET fields = EXCLUDED.fields`
	if merge {
		query = `INSERT INTO documents (collection, id, fields) VALUES ($1, $2, $3)
		         ON CONFLICT (collection, id) DO UPDATE SET fields = documents.fields || EXCLUDED.fields`
	}

	if _, err := s.db.Exec(ctx, query, collection, id, raw); err != nil {
		s.logger.ErrorContext(ctx, "Failed to write document",
			slog.String("collection", collection), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPSERT failed")
		return &docstore.StoreError{Op: "set", Collection: collection, Err: err}
	}

	span.SetStatus(codes.Ok, "document written")
	return nil
}

func (s *Store) AddDocument(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.SetDocument(ctx, collection, id, fields, false); err != nil {
		return "", &docstore.StoreError{Op: "add", Collection: collection, Err: err}
	}
	return id, nil
}

type subscription struct {
	ch     chan []docstore.Document
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (sub *subscription) Snapshots() <-chan []docstore.Document {
	return sub.ch
}

func (sub *subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.cancel()
		<-sub.done
		close(sub.ch)
	})
}

func (s *Store) SubscribeToQuery(ctx context.Context, collection string, filters []docstore.Filter) (docstore.Subscription, error) {
	if s.pool == nil {
		return nil, &docstore.StoreError{Op: "subscribe", Collection: collection, Err: errors.New("live queries require a pool-backed store")}
	}
	for _, f := range filters {
		if f.Op != "==" {
			return nil, &docstore.StoreError{Op: "subscribe", Collection: collection, Err: fmt.Errorf("unsupported filter op %q", f.Op)}
		}
	}

	query, args := buildQuery(collection, filters)

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	conn, err := s.pool.Acquire(subCtx)
	if err != nil {
		cancel()
		return nil, &docstore.StoreError{Op: "subscribe", Collection: collection, Err: err}
	}
	if _, err := conn.Exec(subCtx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		cancel()
		return nil, &docstore.StoreError{Op: "subscribe", Collection: collection, Err: err}
	}

	sub := &subscription{
		ch:     make(chan []docstore.Document, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.listen(subCtx, conn, sub, collection, query, args)
	return sub, nil
}

// listen owns the dedicated connection: each notification for the
// subscribed collection re-runs the query and coalesces the result onto
// the snapshot channel, so an unread snapshot is replaced by the newer one.
func (s *Store) listen(ctx context.Context, conn *pgxpool.Conn, sub *subscription, collection, query string, args []any) {
	defer close(sub.done)
	defer conn.Release()

	s.push(ctx, sub, collection, query, args)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "Live query listener stopped",
					slog.String("collection", collection), slog.Any("error", err))
			}
			return
		}
		if n.Payload != collection {
			continue
		}
		s.push(ctx, sub, collection, query, args)
	}
}

func (s *Store) push(ctx context.Context, sub *subscription, collection, query string, args []any) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		s.logger.ErrorContext(ctx, "Live query refresh failed",
			slog.String("collection", collection), slog.Any("error", err))
		return
	}
	defer rows.Close()

	var snap []docstore.Document
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			s.logger.ErrorContext(ctx, "Live query row scan failed", slog.Any("error", err))
			return
		}
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			s.logger.ErrorContext(ctx, "Live query row decode failed", slog.Any("error", err))
			return
		}
		snap = append(snap, docstore.Document{ID: id, Fields: fields})
	}
	if rows.Err() != nil {
		s.logger.ErrorContext(ctx, "Live query iteration failed", slog.Any("error", rows.Err()))
		return
	}

	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- snap:
	default:
	}
}

func buildQuery(collection string, filters []docstore.Filter) (string, []any) {
	query := `SELECT id, fields FROM documents WHERE collection = $1`
	args := []any{collection}
	for _, f := range filters {
		query += fmt.Sprintf(" AND fields->>$%d = $%d", len(args)+1, len(args)+2)
		args = append(args, f.Field, fmt.Sprint(f.Value))
	}
	return query, args
}
