package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/StricklySoft/stricklysoft-iam/internal/testutil"
	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewFromPool(t *testing.T) {
	t.Parallel()
	mock := newMock(t)

	cfg := &Config{Database: "iam"}
	client := NewFromPool(mock, cfg)
	assert.Same(t, cfg, client.config)
	assert.Equal(t, "iam", client.databaseName)
	assert.Equal(t, Pool(mock), client.Pool())

	client = NewFromPool(mock, nil)
	require.NotNil(t, client.config)
	assert.Empty(t, client.databaseName)
}

func TestNewClient_InvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := NewClient(context.Background(), Config{Port: 70000, Database: "iam", User: "iam"})
	testutil.RequireErrorCode(t, err, sserr.CodeValidation)
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func TestClient_Query(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	mock.ExpectQuery("SELECT name FROM iam_roles").
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("ADMIN").AddRow("USER"))

	rows, err := NewFromPool(mock, nil).Query(context.Background(), "SELECT name FROM iam_roles")
	require.NoError(t, err)
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	require.NoError(t, err)
	assert.Equal(t, []string{"ADMIN", "USER"}, names)
}

func TestClient_QueryRow_NoRows(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	mock.ExpectQuery("SELECT name FROM iam_roles WHERE id").
		WithArgs(int64(9)).
		WillReturnError(pgx.ErrNoRows)

	var name string
	err := NewFromPool(mock, nil).QueryRow(context.Background(), "SELECT name FROM iam_roles WHERE id = $1", int64(9)).Scan(&name)
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestClient_Exec(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	mock.ExpectExec("DELETE FROM iam_roles").
		WithArgs("AUDITOR").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	tag, err := NewFromPool(mock, nil).Exec(context.Background(), "DELETE FROM iam_roles WHERE name = $1", "AUDITOR")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tag.RowsAffected())
}

func TestClient_Begin(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	tx, err := NewFromPool(mock, nil).Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))
}

func TestClient_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want sserr.Code
	}{
		{"deadline", context.DeadlineExceeded, sserr.CodeTimeoutDatabase},
		{"cancelled", context.Canceled, sserr.CodeTimeoutDatabase},
		{"unique violation", &pgconn.PgError{Code: UniqueViolation}, sserr.CodeConflictAlreadyExists},
		{"foreign key", &pgconn.PgError{Code: "23503"}, sserr.CodeInternalDatabase},
		{"generic", errors.New("relation does not exist"), sserr.CodeInternalDatabase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mock := newMock(t)
			mock.ExpectExec("INSERT").WillReturnError(tt.err)
			mock.ExpectQuery("SELECT").WillReturnError(tt.err)
			mock.ExpectBegin().WillReturnError(tt.err)

			client := NewFromPool(mock, nil)
			_, err := client.Exec(context.Background(), "INSERT INTO iam_roles (name) VALUES ($1)", "X")
			testutil.AssertErrorCode(t, err, tt.want)
			_, err = client.Query(context.Background(), "SELECT 1")
			testutil.AssertErrorCode(t, err, tt.want)
			_, err = client.Begin(context.Background())
			testutil.AssertErrorCode(t, err, tt.want)
		})
	}
}

func TestWrapError_Nil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, WrapError(nil, "unused"))
	assert.False(t, IsUniqueViolation(errors.New("plain")))
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestClient_Health(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	client := NewFromPool(mock, nil)
	require.NoError(t, client.Health(context.Background()))
	testutil.RequireErrorCode(t, client.Health(context.Background()), sserr.CodeUnavailableDependency)
}

func TestClient_Close(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	mock.ExpectClose()

	NewFromPool(mock, nil).Close()
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Tracing
// ---------------------------------------------------------------------------

func TestClient_Spans(t *testing.T) {
	t.Parallel()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	mock := newMock(t)
	mock.ExpectExec("UPDATE").WillReturnError(errors.New("boom"))

	client := NewFromPool(mock, &Config{Database: "iam"})
	client.tracer = provider.Tracer(tracerName)
	_, _ = client.Exec(context.Background(), "UPDATE iam_roles SET description = $1", "x")

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "postgres.Exec", span.Name())
	attrs := map[string]string{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "postgresql", attrs["db.system"])
	assert.Equal(t, "iam", attrs["db.name"])
	assert.Equal(t, "UPDATE iam_roles SET description = $1", attrs["db.statement"])
	assert.Len(t, span.Events(), 1, "error recorded")
}
