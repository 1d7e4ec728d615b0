// Package state provides filesystem-backed storage implementations.
package state

import "github.com/user/stagepass/internal/types"

// Compile-time interface compliance checks.
var _ types.ReceiptJournal = (*ReceiptStore)(nil)
