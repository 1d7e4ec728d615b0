// Package purchase runs single-shot ticket purchase attempts against a
// kiosk contract.
//
// An attempt walks Init, CheckOwnership, CheckAvailability, Submit,
// AwaitConfirmation and ParseReceipt in that order. The ownership and
// availability checks read the chain fresh and fail fast; the kiosk contract
// remains the arbiter of the last-ticket race. Once a transaction has been
// submitted the attempt waits for it regardless of caller cancellation.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/semaphore"

	"github.com/user/stagepass/internal/chain"
	"github.com/user/stagepass/internal/clock"
	"github.com/user/stagepass/internal/metadata"
	"github.com/user/stagepass/internal/timing"
	"github.com/user/stagepass/internal/types"
)

// Step is one state of a purchase attempt.
type Step string

const (
	StepInit              Step = "init"
	StepCheckOwnership    Step = "check_ownership"
	StepCheckAvailability Step = "check_availability"
	StepSubmit            Step = "submit"
	StepAwaitConfirmation Step = "await_confirmation"
	StepParseReceipt      Step = "parse_receipt"
	StepDone              Step = "done"
	StepFailed            Step = "failed"
)

// Reader is the read side of the chain used for pre-checks.
type Reader interface {
	Event(ctx context.Context, index uint64) (types.EventRecord, error)
	AllKiosks(ctx context.Context) (map[uint64]common.Address, error)
	SalesInfo(ctx context.Context, kiosk common.Address) (types.SalesInfo, error)
	HasTicket(ctx context.Context, kiosk, user common.Address, index uint64) (bool, error)
}

// Wallet signs and sends the purchase transaction.
type Wallet interface {
	Address() common.Address
	SubmitPurchase(ctx context.Context, kiosk common.Address, value *big.Int) (common.Hash, error)
	AwaitReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
}

// TitleSource supplies event titles for fallback ticket names.
type TitleSource interface {
	Metadata(ctx context.Context, index uint64, uri string) types.Metadata
}

// Coordinator creates purchase attempts bound to one wallet.
type Coordinator struct {
	reader  Reader
	wallet  Wallet
	titles  TitleSource
	journal types.ReceiptJournal
	clock   clock.Clock

	// inflight admits one attempt at a time so an ownership check sees the
	// wallet's previous purchase.
	inflight *semaphore.Weighted
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithJournal records every successful receipt in j.
func WithJournal(j types.ReceiptJournal) Option {
	return func(c *Coordinator) { c.journal = j }
}

// WithTitles resolves event titles through s when a receipt needs a
// synthesized ticket name.
func WithTitles(s TitleSource) Option {
	return func(c *Coordinator) { c.titles = s }
}

// NewCoordinator creates a coordinator. clk may be nil for the system clock.
func NewCoordinator(reader Reader, wallet Wallet, clk clock.Clock, opts ...Option) *Coordinator {
	if clk == nil {
		clk = clock.NewSystem()
	}
	c := &Coordinator{
		reader:   reader,
		wallet:   wallet,
		clock:    clk,
		inflight: semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewAttempt prepares a purchase of one ticket for the event at index.
func (c *Coordinator) NewAttempt(index uint64) *Attempt {
	return &Attempt{
		ID:         types.NewAttemptID(),
		EventIndex: index,
		c:          c,
	}
}

// Attempt is a single purchase intent. It runs at most once.
type Attempt struct {
	ID         types.AttemptID
	EventIndex uint64

	c    *Coordinator
	used atomic.Bool

	mu     sync.Mutex
	steps  []Step
	txHash common.Hash
}

// Steps returns the states the attempt has entered, in order.
func (a *Attempt) Steps() []Step {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Step(nil), a.steps...)
}

// TxHash returns the submitted transaction hash, or the zero hash if the
// attempt never reached Submit.
func (a *Attempt) TxHash() common.Hash {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.txHash
}

func (a *Attempt) enter(s Step) {
	a.mu.Lock()
	a.steps = append(a.steps, s)
	a.mu.Unlock()
}

func (a *Attempt) fail(step Step, kind Kind, err error) error {
	a.enter(StepFailed)
	slog.Warn("purchase failed",
		"attempt", a.ID, "event_index", a.EventIndex,
		"step", step, "kind", kind, "error", err)
	return &Error{Kind: kind, Step: step, Err: err}
}

// Run executes the attempt. A second call returns ErrAttemptReused without
// touching the chain. Failures are *Error values.
func (a *Attempt) Run(ctx context.Context) (*types.PurchaseReceipt, error) {
	if !a.used.CompareAndSwap(false, true) {
		return nil, ErrAttemptReused
	}
	c := a.c
	buyer := c.wallet.Address()

	a.enter(StepInit)
	if err := c.inflight.Acquire(ctx, 1); err != nil {
		return nil, a.fail(StepInit, KindCancelled, err)
	}
	defer c.inflight.Release(1)

	ev, err := c.reader.Event(ctx, a.EventIndex)
	if errors.Is(err, chain.ErrCallReverted) {
		return nil, a.fail(StepInit, KindEventNotFound, err)
	}
	if err != nil {
		return nil, a.fail(StepInit, classifyRead(err), err)
	}
	kiosk := ev.KioskAddress
	if !ev.HasKiosk() {
		kiosks, err := c.reader.AllKiosks(ctx)
		if err != nil {
			return nil, a.fail(StepInit, classifyRead(err), err)
		}
		kiosk = kiosks[a.EventIndex]
	}
	if kiosk == (common.Address{}) {
		return nil, a.fail(StepInit, KindNoKiosk, fmt.Errorf("event %d has no kiosk", a.EventIndex))
	}

	a.enter(StepCheckOwnership)
	owned, err := c.reader.HasTicket(ctx, kiosk, buyer, a.EventIndex)
	if err != nil {
		return nil, a.fail(StepCheckOwnership, classifyRead(err), err)
	}
	if owned {
		return nil, a.fail(StepCheckOwnership, KindAlreadyOwned, nil)
	}

	a.enter(StepCheckAvailability)
	sales, err := c.reader.SalesInfo(ctx, kiosk)
	if err != nil {
		return nil, a.fail(StepCheckAvailability, classifyRead(err), err)
	}
	if sales.Remaining == 0 {
		return nil, a.fail(StepCheckAvailability, KindSoldOut, nil)
	}
	if timing.PhaseAt(c.clock.Now(), ev.StartTime, ev.DurationMinutes) == types.PhaseCompleted {
		return nil, a.fail(StepCheckAvailability, KindEventEnded, nil)
	}
	price := new(big.Int)
	if sales.Price != nil {
		price.Set(sales.Price)
	}

	if err := ctx.Err(); err != nil {
		return nil, a.fail(StepSubmit, KindCancelled, err)
	}
	a.enter(StepSubmit)
	hash, err := c.wallet.SubmitPurchase(ctx, kiosk, price)
	if err != nil {
		return nil, a.fail(StepSubmit, classifySubmit(err), err)
	}
	a.mu.Lock()
	a.txHash = hash
	a.mu.Unlock()
	slog.Info("purchase submitted", "attempt", a.ID, "event_index", a.EventIndex, "tx", hash.Hex())

	// The transaction is out; caller cancellation no longer applies.
	waitCtx := context.WithoutCancel(ctx)

	a.enter(StepAwaitConfirmation)
	receipt, err := c.wallet.AwaitReceipt(waitCtx, hash)
	if err != nil {
		return nil, a.fail(StepAwaitConfirmation, KindChainUnavailable, err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, a.fail(StepAwaitConfirmation, a.revertKind(waitCtx, kiosk), fmt.Errorf("transaction %s reverted", hash.Hex()))
	}

	a.enter(StepParseReceipt)
	out := &types.PurchaseReceipt{
		AttemptID:      a.ID,
		EventIndex:     a.EventIndex,
		PurchasePrice:  price,
		KioskAddress:   kiosk,
		TxHash:         hash,
		CreatorAddress: ev.Creator,
		Buyer:          buyer,
		PurchasedAt:    c.clock.Now(),
	}
	if mint, ok := chain.ParseMint(receipt, kiosk); ok {
		out.TicketID = mint.TicketID
		out.TicketName = mint.TicketName
		out.FromLog = true
		if mint.Price != nil {
			out.PurchasePrice = mint.Price
		}
	} else {
		slog.Warn("mint log not found in receipt, using fallback ticket",
			"attempt", a.ID, "event_index", a.EventIndex, "tx", hash.Hex())
		out.TicketID = 1
		out.TicketName = a.title(waitCtx, ev) + " Ticket #1"
	}

	if c.journal != nil {
		if err := c.journal.Add(waitCtx, out); err != nil {
			slog.Error("failed to journal receipt", "attempt", a.ID, "tx", hash.Hex(), "error", err)
		}
	}
	a.enter(StepDone)
	slog.Info("purchase confirmed",
		"attempt", a.ID, "event_index", a.EventIndex,
		"ticket_id", out.TicketID, "tx", hash.Hex())
	return out, nil
}

// revertKind decides why a mined transaction failed. A kiosk with nothing
// left means another buyer took the last ticket between our check and the
// block.
func (a *Attempt) revertKind(ctx context.Context, kiosk common.Address) Kind {
	sales, err := a.c.reader.SalesInfo(ctx, kiosk)
	if err == nil && sales.Remaining == 0 {
		return KindOversoldOnChain
	}
	return KindReverted
}

func (a *Attempt) title(ctx context.Context, ev types.EventRecord) string {
	if a.c.titles != nil {
		if md := a.c.titles.Metadata(ctx, a.EventIndex, ev.MetadataURI); md.Title != "" {
			return md.Title
		}
	}
	return metadata.Placeholder(a.EventIndex).Title
}
