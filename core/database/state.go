package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NodeRecord is one persisted tree node.
type NodeRecord struct {
	ID       uint32 `gorm:"column:id;primaryKey;autoIncrement:false"`
	SyncID   string `gorm:"column:sync_id;primaryKey;size:64"`
	ParentID uint32 `gorm:"column:parent_id;index"`
	// Remote is the handle of the linked remote node.
	Remote uint64 `gorm:"column:remote"`
	// Format is the record layout version of Data.
	Format uint8  `gorm:"column:format"`
	Data   []byte `gorm:"column:data"`
}

// TableName overrides the default table name.
func (NodeRecord) TableName() string {
	return "local_nodes"
}

// TransferRecord is one persisted pending transfer.
type TransferRecord struct {
	Seq       uint64 `gorm:"column:seq;primaryKey;autoIncrement:false"`
	SyncID    string `gorm:"column:sync_id;primaryKey;size:64"`
	Direction int8   `gorm:"column:direction;primaryKey;autoIncrement:false"`
	Target    string `gorm:"column:target;size:1024"`
	Data      []byte `gorm:"column:data"`
}

// TableName overrides the default table name.
func (TransferRecord) TableName() string {
	return "pending_transfers"
}

// TombstoneRecord is a remote file whose local node was moved or removed
// before the remote followed.
type TombstoneRecord struct {
	SyncID  string `gorm:"column:sync_id;primaryKey;size:64"`
	Path    string `gorm:"column:path;primaryKey;size:512"`
	Remote  uint64 `gorm:"column:remote"`
	MovedTo string `gorm:"column:moved_to;size:512"`
}

// TableName overrides the default table name.
func (TombstoneRecord) TableName() string {
	return "remote_tombstones"
}

// Batch is a set of node mutations committed atomically.
type Batch struct {
	Save   []NodeRecord
	Delete []uint32
}

// Empty reports whether the batch carries no mutation.
func (b Batch) Empty() bool {
	return len(b.Save) == 0 && len(b.Delete) == 0
}

// StateStore persists the state of one sync instance.
type StateStore struct {
	db        *gorm.DB
	syncID    string
	batchSize int
}

// NewStateStore returns a store scoped to syncID.
func NewStateStore(db *gorm.DB, syncID string, batchSize int) *StateStore {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &StateStore{db: db, syncID: syncID, batchSize: batchSize}
}

// Migrate creates or updates the state tables.
func (s *StateStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&NodeRecord{}, &TransferRecord{}, &TombstoneRecord{}); err != nil {
		return fmt.Errorf("failed to migrate state tables: %w", err)
	}
	return nil
}

var requiredColumns = map[string][]string{
	"local_nodes":       {"id", "sync_id", "parent_id", "remote", "format", "data"},
	"pending_transfers": {"seq", "sync_id", "direction", "target", "data"},
	"remote_tombstones": {"sync_id", "path", "remote", "moved_to"},
}

// VerifySchema returns the state table columns that are missing.
func (s *StateStore) VerifySchema() ([]string, error) {
	var missing []string
	for _, table := range []string{"local_nodes", "pending_transfers", "remote_tombstones"} {
		columns, err := GetTableColumns(s.db, table)
		if err != nil {
			return nil, err
		}
		present := make(map[string]bool, len(columns))
		for _, col := range columns {
			present[col.Field] = true
		}
		for _, want := range requiredColumns[table] {
			if !present[want] {
				missing = append(missing, table+"."+want)
			}
		}
	}
	return missing, nil
}

// LoadNodes returns every node record of the sync ordered by row id.
func (s *StateStore) LoadNodes(ctx context.Context) ([]NodeRecord, error) {
	var records []NodeRecord
	err := s.db.WithContext(ctx).
		Where("sync_id = ?", s.syncID).
		Order("id").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load nodes: %w", err)
	}
	return records, nil
}

// Commit writes b in a single transaction.
func (s *StateStore) Commit(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}
	for i := range b.Save {
		b.Save[i].SyncID = s.syncID
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(b.Save) > 0 {
			err := tx.Clauses(clause.OnConflict{UpdateAll: true}).
				CreateInBatches(b.Save, s.batchSize).Error
			if err != nil {
				return fmt.Errorf("failed to save nodes: %w", err)
			}
		}
		if len(b.Delete) > 0 {
			err := tx.Where("sync_id = ? AND id IN ?", s.syncID, b.Delete).
				Delete(&NodeRecord{}).Error
			if err != nil {
				return fmt.Errorf("failed to delete nodes: %w", err)
			}
		}
		return nil
	})
}

// LoadTransfers returns the persisted transfers ordered by sequence.
func (s *StateStore) LoadTransfers(ctx context.Context) ([]TransferRecord, error) {
	var records []TransferRecord
	err := s.db.WithContext(ctx).
		Where("sync_id = ?", s.syncID).
		Order("seq").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load transfers: %w", err)
	}
	return records, nil
}

// ReplaceTransfers swaps the persisted transfers for records.
func (s *StateStore) ReplaceTransfers(ctx context.Context, records []TransferRecord) error {
	for i := range records {
		records[i].SyncID = s.syncID
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("sync_id = ?", s.syncID).Delete(&TransferRecord{}).Error; err != nil {
			return fmt.Errorf("failed to clear transfers: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(records, s.batchSize).Error; err != nil {
			return fmt.Errorf("failed to save transfers: %w", err)
		}
		return nil
	})
}

// LoadTombstones returns the remote files still waiting for a move or a
// removal.
func (s *StateStore) LoadTombstones(ctx context.Context) ([]TombstoneRecord, error) {
	var records []TombstoneRecord
	err := s.db.WithContext(ctx).
		Where("sync_id = ?", s.syncID).
		Order("path").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load tombstones: %w", err)
	}
	return records, nil
}

// ReplaceTombstones swaps the persisted tombstones for records.
func (s *StateStore) ReplaceTombstones(ctx context.Context, records []TombstoneRecord) error {
	for i := range records {
		records[i].SyncID = s.syncID
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("sync_id = ?", s.syncID).Delete(&TombstoneRecord{}).Error; err != nil {
			return fmt.Errorf("failed to clear tombstones: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(records, s.batchSize).Error; err != nil {
			return fmt.Errorf("failed to save tombstones: %w", err)
		}
		return nil
	})
}

// Reset drops every record of the sync.
func (s *StateStore) Reset(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&NodeRecord{}, &TransferRecord{}, &TombstoneRecord{}} {
			if err := tx.Where("sync_id = ?", s.syncID).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
