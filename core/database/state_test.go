package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func setupSQLiteStore(t *testing.T, syncID string) (*StateStore, *gorm.DB) {
	db, err := Connect(Config{Driver: DriverSQLite, Name: filepath.Join(t.TempDir(), "state.db")})
	require.NoError(t, err)
	store := NewStateStore(db, syncID, 2)
	require.NoError(t, store.Migrate(context.Background()))
	return store, db
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to open mock sql db: %v", err)
	}

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open gorm db: %v", err)
	}

	return gormDB, mock
}

// TestStateStore_NodesRoundTrip tests that committed nodes are loaded back.
func TestStateStore_NodesRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, db := setupSQLiteStore(t, "sync-a")

	err := store.Commit(ctx, Batch{Save: []NodeRecord{
		{ID: 1, ParentID: 0, Format: 1, Data: []byte("root")},
		{ID: 2, ParentID: 1, Format: 1, Data: []byte("child")},
		{ID: 3, ParentID: 1, Format: 1, Data: []byte("other")},
	}})
	require.NoError(t, err)

	// upsert and delete in one batch
	err = store.Commit(ctx, Batch{
		Save:   []NodeRecord{{ID: 2, ParentID: 1, Remote: 99, Format: 1, Data: []byte("child v2")}},
		Delete: []uint32{3},
	})
	require.NoError(t, err)

	records, err := store.LoadNodes(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint32(1), records[0].ID)
	assert.Equal(t, "child v2", string(records[1].Data))
	assert.Equal(t, uint64(99), records[1].Remote)
	assert.Equal(t, "sync-a", records[1].SyncID)

	// another sync sharing the database sees nothing
	other := NewStateStore(db, "sync-b", 0)
	records, err = other.LoadNodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, store.Reset(ctx))
	records, err = store.LoadNodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

// TestStateStore_EmptyBatchIsNoop tests that an empty batch touches nothing.
func TestStateStore_EmptyBatchIsNoop(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewStateStore(db, "s", 0)

	require.NoError(t, store.Commit(context.Background(), Batch{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestStateStore_TransfersReplace tests that saving transfers replaces the previous set.
func TestStateStore_TransfersReplace(t *testing.T) {
	ctx := context.Background()
	store, _ := setupSQLiteStore(t, "sync-a")

	require.NoError(t, store.ReplaceTransfers(ctx, []TransferRecord{
		{Seq: 2, Direction: 1, Target: "b", Data: []byte{2}},
		{Seq: 1, Direction: 0, Target: "a", Data: []byte{1}},
	}))
	require.NoError(t, store.ReplaceTransfers(ctx, []TransferRecord{
		{Seq: 5, Direction: 1, Target: "c", Data: []byte{5}},
		{Seq: 4, Direction: 1, Target: "d", Data: []byte{4}},
		{Seq: 3, Direction: 0, Target: "e", Data: []byte{3}},
	}))

	records, err := store.LoadTransfers(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, uint64(3), records[0].Seq)
	assert.Equal(t, "c", records[2].Target)

	require.NoError(t, store.ReplaceTransfers(ctx, nil))
	records, err = store.LoadTransfers(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

// TestStateStore_TombstonesReplace tests that tombstones are swapped as a set
// and survive a reset of another sync.
func TestStateStore_TombstonesReplace(t *testing.T) {
	ctx := context.Background()
	store, db := setupSQLiteStore(t, "sync-a")
	other := NewStateStore(db, "sync-b", 0)

	require.NoError(t, store.ReplaceTombstones(ctx, []TombstoneRecord{
		{Path: "b.txt", Remote: 2},
		{Path: "a.txt", Remote: 1, MovedTo: "c.txt"},
	}))
	require.NoError(t, other.ReplaceTombstones(ctx, []TombstoneRecord{{Path: "x", Remote: 9}}))

	records, err := store.LoadTombstones(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a.txt", records[0].Path)
	assert.Equal(t, "c.txt", records[0].MovedTo)
	assert.Equal(t, uint64(2), records[1].Remote)

	require.NoError(t, store.Reset(ctx))
	records, err = store.LoadTombstones(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = other.LoadTombstones(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

// TestStateStore_CommitMySQL tests the statements a commit issues against MySQL.
func TestStateStore_CommitMySQL(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewStateStore(db, "sync-a", 100)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `local_nodes`.*ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM `local_nodes` WHERE").
		WithArgs("sync-a", 7, 8).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := store.Commit(context.Background(), Batch{
		Save:   []NodeRecord{{ID: 1, Format: 1, Data: []byte{1}}},
		Delete: []uint32{7, 8},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestStateStore_CommitRollsBack tests that a failed commit is rolled back.
func TestStateStore_CommitRollsBack(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewStateStore(db, "sync-a", 100)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `local_nodes`").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := store.Commit(context.Background(), Batch{Save: []NodeRecord{{ID: 1}}})
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestStateStore_LoadNodesMySQL tests loading nodes through the MySQL dialect.
func TestStateStore_LoadNodesMySQL(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewStateStore(db, "sync-a", 0)

	rows := sqlmock.NewRows([]string{"id", "sync_id", "parent_id", "remote", "format", "data"}).
		AddRow(1, "sync-a", 0, 0, 1, []byte("r")).
		AddRow(2, "sync-a", 1, 5, 1, []byte("c"))
	mock.ExpectQuery("SELECT \\* FROM `local_nodes` WHERE sync_id = \\? ORDER BY id").
		WithArgs("sync-a").
		WillReturnRows(rows)

	records, err := store.LoadNodes(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(5), records[1].Remote)
	assert.NoError(t, mock.ExpectationsWereMet())
}
