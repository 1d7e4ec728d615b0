package state

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/user/stagepass/internal/types"
)

// ErrDuplicateReceipt is returned when a receipt for the same transaction
// has already been journaled.
var ErrDuplicateReceipt = errors.New("receipt already recorded")

// ReceiptStore is a JSONL-backed append-only journal of confirmed purchases,
// one receipt per line in receipts.jsonl.
type ReceiptStore struct {
	path string
	mu   sync.Mutex
}

// NewReceiptStore creates a journal stored under dir.
func NewReceiptStore(dir string) *ReceiptStore {
	return &ReceiptStore{path: filepath.Join(dir, "receipts.jsonl")}
}

// Path returns the file path used by this store.
func (s *ReceiptStore) Path() string {
	return s.path
}

// Add appends a receipt. A second receipt with the same transaction hash is
// rejected with ErrDuplicateReceipt.
func (s *ReceiptStore) Add(_ context.Context, r *types.PurchaseReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load()
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.TxHash == r.TxHash {
			return fmt.Errorf("%w: %s", ErrDuplicateReceipt, r.TxHash.Hex())
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create receipts dir: %w", err)
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open receipts file: %w", err)
	}
	defer f.Close()

	// A torn final line must not swallow the new receipt.
	if endsMidLine(f) {
		data = append([]byte{'\n'}, data...)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write receipt: %w", err)
	}
	return nil
}

// List returns every receipt in the order it was recorded. Returns an empty
// slice if nothing has been journaled yet.
func (s *ReceiptStore) List(_ context.Context) ([]*types.PurchaseReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipts, err := s.load()
	if err != nil {
		return nil, err
	}
	if receipts == nil {
		return []*types.PurchaseReceipt{}, nil
	}
	return receipts, nil
}

// ForEvent returns the receipts for one event.
func (s *ReceiptStore) ForEvent(ctx context.Context, index uint64) ([]*types.PurchaseReceipt, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*types.PurchaseReceipt
	for _, r := range all {
		if r.EventIndex == index {
			out = append(out, r)
		}
	}
	return out, nil
}

// Get finds a receipt by transaction hash.
func (s *ReceiptStore) Get(ctx context.Context, hash common.Hash) (*types.PurchaseReceipt, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range all {
		if r.TxHash == hash {
			return r, nil
		}
	}
	return nil, fmt.Errorf("receipt not found: %s", hash.Hex())
}

// load reads the journal. Caller must hold s.mu.
func (s *ReceiptStore) load() ([]*types.PurchaseReceipt, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open receipts file: %w", err)
	}
	defer f.Close()

	var receipts []*types.PurchaseReceipt
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var r types.PurchaseReceipt
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			slog.Warn("skipping unreadable receipt line", "path", s.path, "line", line, "error", err)
			continue
		}
		receipts = append(receipts, &r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan receipts file: %w", err)
	}
	return receipts, nil
}

// endsMidLine reports whether f is non-empty and lacks a trailing newline.
func endsMidLine(f *os.File) bool {
	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return false
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false
	}
	return last[0] != '\n'
}
