package models

// SyncIDMapping links a user to an opaque hash within one (org, pool) scope.
// Rows are append-only.
type SyncIDMapping struct {
	UserID int64  `db:"user_id" json:"user_id"`
	Hash   string `db:"hash" json:"hash"`
	Org    string `db:"org" json:"org"`
	Pool   string `db:"pool" json:"pool"`
}
