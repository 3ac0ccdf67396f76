package eventstore_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiter-io/arbiter/pkg/domain"
	"github.com/arbiter-io/arbiter/pkg/eventstore"
)

var eventColumns = []string{
	"tenant_id", "event_id", "event_type", "status", "created_at", "metadata",
	"version", "correlation_id", "risk_score", "category", "regulation_ref",
	"compliance_type",
}

func TestSQLStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339Nano)
	mock.ExpectQuery(regexp.QuoteMeta("FROM events WHERE tenant_id = $1 AND event_id = $2")).
		WithArgs("t1", "e1").
		WillReturnRows(sqlmock.NewRows(eventColumns).
			AddRow("t1", "e1", "RiskEvent", "received", created, `{"source":"test"}`,
				"1.0", "corr-1", 42.0, "fraud", nil, nil))

	store := eventstore.NewSQLStore(db, eventstore.DialectPostgres)
	got, err := store.Get(context.Background(), "t1", "e1")
	require.NoError(t, err)

	assert.Equal(t, domain.EventTypeRisk, got.Type)
	assert.Equal(t, domain.StatusReceived, got.Status)
	assert.Equal(t, "corr-1", got.CorrelationID)
	require.NotNil(t, got.RiskScore)
	assert.Equal(t, 42.0, *got.RiskScore)
	assert.Equal(t, "test", got.Metadata["source"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM events").
		WithArgs("t1", "absent").
		WillReturnRows(sqlmock.NewRows(eventColumns))

	store := eventstore.NewSQLStore(db, eventstore.DialectPostgres)
	_, err = store.Get(context.Background(), "t1", "absent")
	assert.ErrorIs(t, err, eventstore.ErrNotFound)
}

func TestSQLStore_SaveInsertsAndReadsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	created := time.Now().UTC().Format(time.RFC3339Nano)
	mock.ExpectQuery("FROM events").
		WithArgs("t1", "e1").
		WillReturnRows(sqlmock.NewRows(eventColumns).
			AddRow("t1", "e1", "ComplianceEvent", "received", created, nil,
				"1.0", "corr-1", nil, nil, "GDPR-17", "privacy"))

	store := eventstore.NewSQLStore(db, eventstore.DialectPostgres)
	event := domain.NewComplianceEvent("e1", "t1", "GDPR-17", "privacy", nil, "1.0")
	event.Status = domain.StatusReceived
	event.CorrelationID = "corr-1"

	saved, err := store.Save(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, "GDPR-17", saved.RegulationRef)
	assert.Equal(t, domain.EventTypeCompliance, saved.Type)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpdateStatusHonorsGraph(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Now().UTC().Format(time.RFC3339Nano)
	mock.ExpectQuery("FROM events").
		WithArgs("t1", "e1").
		WillReturnRows(sqlmock.NewRows(eventColumns).
			AddRow("t1", "e1", "RiskEvent", "received", created, nil,
				"1.0", nil, nil, nil, nil, nil))

	store := eventstore.NewSQLStore(db, eventstore.DialectPostgres)
	_, err = store.UpdateStatus(context.Background(), "t1", "e1", domain.StatusApproved)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpdateStatusWrites(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Now().UTC().Format(time.RFC3339Nano)
	mock.ExpectQuery("FROM events").
		WithArgs("t1", "e1").
		WillReturnRows(sqlmock.NewRows(eventColumns).
			AddRow("t1", "e1", "RiskEvent", "received", created, nil,
				"1.0", nil, nil, nil, nil, nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE events SET status = $1")).
		WithArgs("validated", "t1", "e1", "received").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := eventstore.NewSQLStore(db, eventstore.DialectPostgres)
	updated, err := store.UpdateStatus(context.Background(), "t1", "e1", domain.StatusValidated)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusValidated, updated.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
