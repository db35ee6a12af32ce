package sqlite

import (
	"github.com/felixgeelhaar/proctor/internal/restoration"
	"github.com/felixgeelhaar/proctor/internal/session"
)

// Ensure SQLite stores implement the storage interfaces.
var (
	_ session.ExecutionStore  = (*ExecutionStore)(nil)
	_ session.BackupWriter    = (*BackupStore)(nil)
	_ restoration.BackupStore = (*BackupStore)(nil)
	_ restoration.StateStore  = (*StateStore)(nil)
)
