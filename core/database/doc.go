// Package database holds the state cache of a sync.
//
// Connect opens the cache through GORM, on sqlite by default (one file per
// machine, `~` expanded) or on MySQL when several hosts share a server.
//
// # State Store
//
// StateStore keeps one row per tree node in local_nodes, keyed by the sync id
// and the node's row id, and the resumable transfer queue in
// pending_transfers. remote_tombstones remembers remote files whose local node
// was moved or removed until the remote has followed. Node rows carry the codec encoded record plus its format
// version, the parent row id and the linked remote handle. Commit writes a
// batch of saves and deletes in one transaction, so a crash leaves the cache
// at the previous batch boundary.
//
// # Schema Inspection
//
// GetTableColumns reads column definitions on both dialects. VerifySchema uses
// it to report state table columns missing after a partial migration.
//
// # Usage
//
//	db, err := database.Connect(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	store := database.NewStateStore(db, cfg.SyncID, cfg.Sync.BatchSize)
//	if err := store.Migrate(ctx); err != nil {
//	    return err
//	}
package database
