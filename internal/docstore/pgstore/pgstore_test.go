package pgstore

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmarques/failforward/internal/docstore"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithDB(mock, slog.Default()), mock
}

func TestGetDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("Found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT fields FROM documents WHERE collection = $1 AND id = $2`)).
			WithArgs("users", "u1").
			WillReturnRows(pgxmock.NewRows([]string{"fields"}).AddRow([]byte(`{"displayName":"Ana","reputation":0}`)))

		doc, err := store.GetDocument(ctx, "users", "u1")
		require.NoError(t, err)
		assert.Equal(t, "u1", doc.ID)
		assert.Equal(t, "Ana", doc.Fields["displayName"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT fields FROM documents`)).
			WithArgs("users", "missing").
			WillReturnError(pgx.ErrNoRows)

		_, err := store.GetDocument(ctx, "users", "missing")
		assert.ErrorIs(t, err, docstore.ErrNotFound)
	})

	t.Run("QueryError", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT fields FROM documents`)).
			WithArgs("users", "u1").
			WillReturnError(errors.New("connection reset"))

		_, err := store.GetDocument(ctx, "users", "u1")
		var storeErr *docstore.StoreError
		assert.ErrorAs(t, err, &storeErr)
	})
}

func TestSetDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("Replace", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta(`DO UPDATE SET fields = EXCLUDED.fields`)).
			WithArgs("users", "u1", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := store.SetDocument(ctx, "users", "u1", map[string]any{"bio": "hello"}, false)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Merge", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta(`DO UPDATE SET fields = documents.fields || EXCLUDED.fields`)).
			WithArgs("users", "u1", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := store.SetDocument(ctx, "users", "u1", map[string]any{"bio": "hello"}, true)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("WriteError", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO documents`)).
			WithArgs("users", "u1", pgxmock.AnyArg()).
			WillReturnError(errors.New("disk full"))

		err := store.SetDocument(ctx, "users", "u1", map[string]any{"bio": "hello"}, false)
		var storeErr *docstore.StoreError
		assert.ErrorAs(t, err, &storeErr)
	})
}

func TestAddDocument(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO documents`)).
		WithArgs("failures", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := store.AddDocument(context.Background(), "failures", map[string]any{"title": "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscribeRequiresPool(t *testing.T) {
	store, _ := newMockStore(t)
	_, err := store.SubscribeToQuery(context.Background(), "failures", nil)
	var storeErr *docstore.StoreError
	assert.ErrorAs(t, err, &storeErr)
}

func TestBuildQuery(t *testing.T) {
	query, args := buildQuery("failures", []docstore.Filter{docstore.Eq("authorId", "u1")})
	assert.Equal(t, `SELECT id, fields FROM documents WHERE collection = $1 AND fields->>$2 = $3`, query)
	assert.Equal(t, []any{"failures", "authorId", "u1"}, args)
}
