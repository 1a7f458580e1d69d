package dirsync

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewStore(sqlx.NewDb(db, "sqlmock")), mock
}

func TestGetUserMapping(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT user_id FROM directory_user_mappings`).
		WithArgs("conn-1", "ext-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("user-1"))

	userID, err := store.GetUserMapping(context.Background(), "conn-1", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserMappingMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT user_id FROM directory_user_mappings`).
		WithArgs("conn-1", "ext-404").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	_, err := store.GetUserMapping(context.Background(), "conn-1", "ext-404")
	assert.ErrorIs(t, err, ErrMappingNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListGroupMappings(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT external_id, group_id FROM directory_group_mappings`).
		WithArgs("conn-1").
		WillReturnRows(sqlmock.NewRows([]string{"external_id", "group_id"}).
			AddRow("g1", "group-1").
			AddRow("g2", "group-2"))

	mappings, err := store.ListGroupMappings(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"g1": "group-1", "g2": "group-2"}, mappings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserMappingUpserts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO directory_user_mappings`).
		WithArgs("conn-1", "ext-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.CreateUserMapping(context.Background(), "conn-1", "ext-1", "user-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSyncLogSerializesErrors(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO directory_sync_logs`).
		WithArgs("conn-1", "full", "partial", 3, 1,
			[]byte(`[{"type":"user","external_id":"u2","operation":"create","message":"boom"}]`),
			"", int64(1500)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.InsertSyncLog(context.Background(), SyncLog{
		ConnectionID: "conn-1",
		SyncType:     SyncFull,
		Status:       "partial",
		UsersSynced:  3,
		GroupsSynced: 1,
		Errors: []SyncError{
			{Type: EntityUser, ExternalID: "u2", Operation: "create", Message: "boom"},
		},
		DurationMS: 1500,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLastDeltaLink(t *testing.T) {
	store, mock := newMockStore(t)

	// Rows without a cursor are excluded so a failed run cannot shadow the
	// last good cursor.
	mock.ExpectQuery(`SELECT delta_link FROM directory_sync_logs\s+WHERE connection_id = \$1 AND sync_type = 'incremental' AND delta_link IS NOT NULL`).
		WithArgs("conn-1").
		WillReturnRows(sqlmock.NewRows([]string{"delta_link"}).AddRow("cursor-X"))

	link, err := store.LastDeltaLink(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "cursor-X", link)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLastDeltaLinkNoIncrementalRuns(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT delta_link FROM directory_sync_logs`).
		WithArgs("conn-1").
		WillReturnRows(sqlmock.NewRows([]string{"delta_link"}))

	link, err := store.LastDeltaLink(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.Empty(t, link)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSyncLogs(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT id, connection_id, sync_type, status`).
		WithArgs("conn-1", 10).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "connection_id", "sync_type", "status", "users_synced",
			"groups_synced", "errors", "delta_link", "duration_ms", "created_at",
		}).AddRow("log-1", "conn-1", "incremental", "success", 2, 0,
			[]byte(`[]`), "cursor-X", int64(900), now))

	logs, err := store.ListSyncLogs(context.Background(), "conn-1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, SyncIncremental, logs[0].SyncType)
	assert.Equal(t, "cursor-X", logs[0].DeltaLink)
	assert.NoError(t, mock.ExpectationsWereMet())
}
