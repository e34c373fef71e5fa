package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Capitan-Parrot/waste-sorter/internal/models"
)

func newMock(t *testing.T) (*Database, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Database{DB: db}, mock
}

func TestRecordActuation(t *testing.T) {
	d, mock := newMock(t)
	at := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO actuations").
		WithArgs("ev-1", "belt-1", "可回收物", 0.92, int16(1), "fired", "", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := d.RecordActuation(context.Background(), models.ActuationEvent{
		ID:         "ev-1",
		SessionID:  "belt-1",
		Class:      "可回收物",
		Confidence: 0.92,
		Command:    models.CommandRecyclable,
		Outcome:    models.OutcomeFired,
		OccurredAt: at,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordActuationError(t *testing.T) {
	d, mock := newMock(t)
	mock.ExpectExec("INSERT INTO actuations").WillReturnError(errors.New("connection reset"))

	err := d.RecordActuation(context.Background(), models.ActuationEvent{ID: "x", OccurredAt: time.Now()})
	assert.ErrorContains(t, err, "connection reset")
}

func TestListActuations(t *testing.T) {
	d, mock := newMock(t)
	at := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "session_id", "class", "confidence", "command", "outcome", "error", "occurred_at"}).
		AddRow("ev-2", "belt-1", "其他垃圾", 0.7, int64(4), "link_error", "send 0x04: unplugged", at).
		AddRow("ev-1", "belt-1", "可回收物", 0.9, int64(1), "fired", "", at.Add(-time.Second))
	mock.ExpectQuery("SELECT id, session_id, class").WithArgs(10).WillReturnRows(rows)

	got, err := d.ListActuations(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.CommandOther, got[0].Command)
	assert.Equal(t, models.OutcomeLinkError, got[0].Outcome)
	assert.Equal(t, "send 0x04: unplugged", got[0].Error)
	assert.Equal(t, models.OutcomeFired, got[1].Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActuationsEmpty(t *testing.T) {
	d, mock := newMock(t)
	mock.ExpectQuery("SELECT").WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "class", "confidence", "command", "outcome", "error", "occurred_at"}))

	got, err := d.ListActuations(context.Background(), 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestInit(t *testing.T) {
	d, mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS actuations").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, d.Init())
	assert.NoError(t, mock.ExpectationsWereMet())
}
