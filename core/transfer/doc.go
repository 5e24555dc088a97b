// Package transfer holds the queue of pending uploads and downloads.
//
// Each direction keeps its own FIFO ordered by sequence number; there is no
// ordering between directions. An item is Queued until the transfer engine
// starts it, Active while it runs, and leaves the queue when it Completes or
// Fails. Retrying is the engine's business.
//
// Listener callbacks run after the queue lock is released, so a listener may
// take the tree lock without inverting the lock order (identity index before
// queue).
package transfer
