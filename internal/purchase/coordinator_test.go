package purchase

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/user/stagepass/internal/chain"
	"github.com/user/stagepass/internal/clock"
	"github.com/user/stagepass/internal/types"
)

var (
	kioskAddr   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	buyerAddr   = common.HexToAddress("0x2000000000000000000000000000000000000002")
	creatorAddr = common.HexToAddress("0x3000000000000000000000000000000000000003")
	ticketPrice = big.NewInt(5e16)
	baseTime    = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
)

const mintEventABI = `[{"type":"event","name":"TicketMinted","anonymous":false,"inputs":[
	{"name":"ticketId","type":"uint256","indexed":true},
	{"name":"buyer","type":"address","indexed":true},
	{"name":"ticketName","type":"string","indexed":false},
	{"name":"artCategory","type":"string","indexed":false},
	{"name":"price","type":"uint256","indexed":false}]}]`

// fakeKiosk models one event's registry entry and kiosk inventory and records
// the order of chain calls.
type fakeKiosk struct {
	mu sync.Mutex

	event     types.EventRecord
	directory map[uint64]common.Address
	total     uint32
	sold      uint32
	owners    map[common.Address]bool
	tickets   map[uint64]types.TicketRecord

	eventErr   error
	emitLog    bool
	submitErr  error
	receiptErr error
	failStatus bool
	// soldOnChain is applied when the receipt is fetched, to simulate a
	// competing buyer landing first.
	soldOnChain uint32

	calls []string
}

func newFakeKiosk() *fakeKiosk {
	return &fakeKiosk{
		event: types.EventRecord{
			Index:           4,
			Creator:         creatorAddr,
			StartTime:       baseTime.Add(time.Hour),
			DurationMinutes: 90,
			KioskAddress:    kioskAddr,
			MetadataURI:     "ipfs://QmMeta",
		},
		total:   10,
		sold:    3,
		owners:  map[common.Address]bool{},
		tickets: map[uint64]types.TicketRecord{},
		emitLog: true,
	}
}

func (f *fakeKiosk) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeKiosk) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeKiosk) Event(ctx context.Context, index uint64) (types.EventRecord, error) {
	f.record("Event")
	if f.eventErr != nil {
		return types.EventRecord{}, f.eventErr
	}
	return f.event, nil
}

func (f *fakeKiosk) AllKiosks(ctx context.Context) (map[uint64]common.Address, error) {
	f.record("AllKiosks")
	return f.directory, nil
}

func (f *fakeKiosk) SalesInfo(ctx context.Context, kiosk common.Address) (types.SalesInfo, error) {
	f.record("SalesInfo")
	f.mu.Lock()
	defer f.mu.Unlock()
	return types.SalesInfo{
		Total:     f.total,
		Sold:      f.sold,
		Remaining: f.total - f.sold,
		Price:     new(big.Int).Set(ticketPrice),
	}, nil
}

func (f *fakeKiosk) HasTicket(ctx context.Context, kiosk, user common.Address, index uint64) (bool, error) {
	f.record("HasTicket")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owners[user], nil
}

func (f *fakeKiosk) TicketInfo(ctx context.Context, kiosk common.Address, ticketID uint64) (types.TicketRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[ticketID]
	if !ok {
		return types.TicketRecord{}, fmt.Errorf("no ticket %d", ticketID)
	}
	return t, nil
}

func (f *fakeKiosk) Address() common.Address { return buyerAddr }

func (f *fakeKiosk) SubmitPurchase(ctx context.Context, kiosk common.Address, value *big.Int) (common.Hash, error) {
	f.record("SubmitPurchase")
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	if value.Cmp(ticketPrice) != 0 {
		return common.Hash{}, fmt.Errorf("execution reverted: wrong price %s", value)
	}
	return common.HexToHash("0xabc1"), nil
}

func (f *fakeKiosk) AwaitReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	f.record("AwaitReceipt")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.soldOnChain > 0 {
		f.sold = f.soldOnChain
	}
	if f.failStatus {
		return &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed, TxHash: hash}, nil
	}

	f.sold++
	id := uint64(f.sold)
	name := fmt.Sprintf("Rooftop Session Ticket #%d", id)
	f.owners[buyerAddr] = true
	f.tickets[id] = types.TicketRecord{
		TicketID:      id,
		EventIndex:    f.event.Index,
		Owner:         buyerAddr,
		OriginalOwner: buyerAddr,
		PurchasePrice: new(big.Int).Set(ticketPrice),
		Name:          name,
	}

	receipt := &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful, TxHash: hash}
	if f.emitLog {
		receipt.Logs = []*ethtypes.Log{mintLog(kioskAddr, id, name)}
	}
	return receipt, nil
}

func mintLog(kiosk common.Address, id uint64, name string) *ethtypes.Log {
	parsed, err := abi.JSON(strings.NewReader(mintEventABI))
	if err != nil {
		panic(err)
	}
	event := parsed.Events["TicketMinted"]
	data, err := event.Inputs.NonIndexed().Pack(name, "music", ticketPrice)
	if err != nil {
		panic(err)
	}
	return &ethtypes.Log{
		Address: kiosk,
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(new(big.Int).SetUint64(id)),
			common.BytesToHash(buyerAddr.Bytes()),
		},
		Data: data,
	}
}

type memJournal struct {
	mu       sync.Mutex
	receipts []*types.PurchaseReceipt
}

func (j *memJournal) Add(ctx context.Context, r *types.PurchaseReceipt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.receipts = append(j.receipts, r)
	return nil
}

func (j *memJournal) List(ctx context.Context) ([]*types.PurchaseReceipt, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*types.PurchaseReceipt(nil), j.receipts...), nil
}

type staticTitles string

func (s staticTitles) Metadata(ctx context.Context, index uint64, uri string) types.Metadata {
	return types.Metadata{Title: string(s)}
}

func newCoordinator(f *fakeKiosk, opts ...Option) *Coordinator {
	return NewCoordinator(f, f, clock.NewManual(baseTime), opts...)
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	return pe.Kind
}

func TestRunSuccess(t *testing.T) {
	f := newFakeKiosk()
	journal := &memJournal{}
	attempt := newCoordinator(f, WithJournal(journal)).NewAttempt(4)

	receipt, err := attempt.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if receipt.TicketID != 4 || receipt.TicketName != "Rooftop Session Ticket #4" || !receipt.FromLog {
		t.Errorf("unexpected receipt: %+v", receipt)
	}
	if receipt.EventIndex != 4 || receipt.KioskAddress != kioskAddr || receipt.CreatorAddress != creatorAddr {
		t.Errorf("unexpected receipt addresses: %+v", receipt)
	}
	if receipt.TxHash != common.HexToHash("0xabc1") || attempt.TxHash() != receipt.TxHash {
		t.Errorf("tx hash = %s", receipt.TxHash.Hex())
	}
	if receipt.AttemptID != attempt.ID || !receipt.PurchasedAt.Equal(baseTime) {
		t.Errorf("unexpected attempt/time: %+v", receipt)
	}

	want := []Step{StepInit, StepCheckOwnership, StepCheckAvailability, StepSubmit, StepAwaitConfirmation, StepParseReceipt, StepDone}
	if got := attempt.Steps(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("steps = %v, want %v", got, want)
	}

	stored, _ := journal.List(context.Background())
	if len(stored) != 1 || stored[0] != receipt {
		t.Errorf("journal = %v", stored)
	}
}

func TestReceiptMatchesTicketInfo(t *testing.T) {
	f := newFakeKiosk()
	receipt, err := newCoordinator(f).NewAttempt(4).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	ticket, err := f.TicketInfo(context.Background(), receipt.KioskAddress, receipt.TicketID)
	if err != nil {
		t.Fatalf("TicketInfo: %v", err)
	}
	if ticket.PurchasePrice.Cmp(receipt.PurchasePrice) != 0 {
		t.Errorf("price: ticket %s, receipt %s", ticket.PurchasePrice, receipt.PurchasePrice)
	}
	if ticket.EventIndex != receipt.EventIndex {
		t.Errorf("event index: ticket %d, receipt %d", ticket.EventIndex, receipt.EventIndex)
	}
}

func TestMissingMintLogUsesFallback(t *testing.T) {
	f := newFakeKiosk()
	f.emitLog = false

	receipt, err := newCoordinator(f, WithTitles(staticTitles("Rooftop Session"))).NewAttempt(4).Run(context.Background())
	if err != nil {
		t.Fatalf("missing log must not fail the purchase: %v", err)
	}
	if receipt.TicketID != 1 || receipt.TicketName != "Rooftop Session Ticket #1" || receipt.FromLog {
		t.Errorf("unexpected fallback receipt: %+v", receipt)
	}
	if receipt.PurchasePrice.Cmp(ticketPrice) != 0 {
		t.Errorf("price = %s", receipt.PurchasePrice)
	}
}

func TestFallbackNameWithoutTitles(t *testing.T) {
	f := newFakeKiosk()
	f.emitLog = false

	receipt, err := newCoordinator(f).NewAttempt(4).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if receipt.TicketName != "Event #4 Ticket #1" {
		t.Errorf("name = %q", receipt.TicketName)
	}
}

func TestAlreadyOwnedShortCircuits(t *testing.T) {
	f := newFakeKiosk()
	f.owners[buyerAddr] = true

	_, err := newCoordinator(f).NewAttempt(4).Run(context.Background())
	if kind := kindOf(t, err); kind != KindAlreadyOwned {
		t.Fatalf("kind = %s", kind)
	}
	calls := f.callLog()
	if fmt.Sprint(calls) != fmt.Sprint([]string{"Event", "HasTicket"}) {
		t.Errorf("calls = %v, SalesInfo must not run after ownership fails", calls)
	}
}

func TestSoldOutNeverSubmits(t *testing.T) {
	f := newFakeKiosk()
	f.sold = f.total

	attempt := newCoordinator(f).NewAttempt(4)
	_, err := attempt.Run(context.Background())
	if kind := kindOf(t, err); kind != KindSoldOut {
		t.Fatalf("kind = %s", kind)
	}
	for _, c := range f.callLog() {
		if c == "SubmitPurchase" {
			t.Fatal("sold out attempt reached SubmitPurchase")
		}
	}
	steps := attempt.Steps()
	if steps[len(steps)-1] != StepFailed {
		t.Errorf("last step = %s", steps[len(steps)-1])
	}
}

func TestEventEnded(t *testing.T) {
	f := newFakeKiosk()
	f.event.StartTime = baseTime.Add(-3 * time.Hour)

	_, err := newCoordinator(f).NewAttempt(4).Run(context.Background())
	if kind := kindOf(t, err); kind != KindEventEnded {
		t.Fatalf("kind = %s", kind)
	}
}

func TestLiveEventCanBeBought(t *testing.T) {
	f := newFakeKiosk()
	f.event.StartTime = baseTime.Add(-30 * time.Minute)

	if _, err := newCoordinator(f).NewAttempt(4).Run(context.Background()); err != nil {
		t.Fatalf("live event purchase: %v", err)
	}
}

func TestKioskFromDirectory(t *testing.T) {
	f := newFakeKiosk()
	f.event.KioskAddress = common.Address{}
	f.directory = map[uint64]common.Address{4: kioskAddr}

	receipt, err := newCoordinator(f).NewAttempt(4).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if receipt.KioskAddress != kioskAddr {
		t.Errorf("kiosk = %s", receipt.KioskAddress.Hex())
	}
}

func TestNoKiosk(t *testing.T) {
	f := newFakeKiosk()
	f.event.KioskAddress = common.Address{}

	_, err := newCoordinator(f).NewAttempt(4).Run(context.Background())
	if kind := kindOf(t, err); kind != KindNoKiosk {
		t.Fatalf("kind = %s", kind)
	}
}

func TestMissingEventIsNotFound(t *testing.T) {
	f := newFakeKiosk()
	f.eventErr = fmt.Errorf("getEvent: %w: execution reverted", chain.ErrCallReverted)

	_, err := newCoordinator(f).NewAttempt(99).Run(context.Background())
	if kind := kindOf(t, err); kind != KindEventNotFound {
		t.Fatalf("kind = %s", kind)
	}
	var pe *Error
	if errors.As(err, &pe) && pe.Message() != "This event does not exist." {
		t.Errorf("message = %q", pe.Message())
	}
	if got := f.callLog(); len(got) != 1 || got[0] != "Event" {
		t.Errorf("calls = %v, want only Event", got)
	}

	f = newFakeKiosk()
	f.eventErr = fmt.Errorf("getEvent: %w: dial tcp: refused", chain.ErrChainUnavailable)
	_, err = newCoordinator(f).NewAttempt(4).Run(context.Background())
	if kind := kindOf(t, err); kind != KindChainUnavailable {
		t.Errorf("transport failure kind = %s", kind)
	}
}

func TestRunIsSingleShot(t *testing.T) {
	f := newFakeKiosk()
	attempt := newCoordinator(f).NewAttempt(4)

	if _, err := attempt.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := len(f.callLog())
	if _, err := attempt.Run(context.Background()); !errors.Is(err, ErrAttemptReused) {
		t.Fatalf("second Run err = %v", err)
	}
	if len(f.callLog()) != before {
		t.Error("second Run touched the chain")
	}
}

func TestFailedAttemptIsAlsoSingleShot(t *testing.T) {
	f := newFakeKiosk()
	f.sold = f.total
	attempt := newCoordinator(f).NewAttempt(4)

	_, _ = attempt.Run(context.Background())
	if _, err := attempt.Run(context.Background()); !errors.Is(err, ErrAttemptReused) {
		t.Fatalf("err = %v", err)
	}
}

func TestAttemptsHaveDistinctIDs(t *testing.T) {
	c := newCoordinator(newFakeKiosk())
	if c.NewAttempt(1).ID == c.NewAttempt(1).ID {
		t.Error("attempt ids must be unique")
	}
}

func TestCancelledBeforeSubmit(t *testing.T) {
	f := newFakeKiosk()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newCoordinator(f).NewAttempt(4).Run(ctx)
	if kind := kindOf(t, err); kind != KindCancelled {
		t.Fatalf("kind = %s", kind)
	}
	for _, c := range f.callLog() {
		if c == "SubmitPurchase" {
			t.Fatal("cancelled attempt reached SubmitPurchase")
		}
	}
}

// cancelOnSubmit cancels the caller's context as soon as the transaction is
// sent.
type cancelOnSubmit struct {
	*fakeKiosk
	cancel context.CancelFunc
}

func (c cancelOnSubmit) SubmitPurchase(ctx context.Context, kiosk common.Address, value *big.Int) (common.Hash, error) {
	h, err := c.fakeKiosk.SubmitPurchase(ctx, kiosk, value)
	c.cancel()
	return h, err
}

func TestCancelAfterSubmitStillConfirms(t *testing.T) {
	f := newFakeKiosk()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewCoordinator(f, cancelOnSubmit{fakeKiosk: f, cancel: cancel}, clock.NewManual(baseTime))
	receipt, err := c.NewAttempt(4).Run(ctx)
	if err != nil {
		t.Fatalf("submitted purchase must be awaited: %v", err)
	}
	if receipt.TicketID == 0 {
		t.Errorf("unexpected receipt: %+v", receipt)
	}
}

type codedError struct{ code int }

func (e codedError) Error() string  { return "wallet error" }
func (e codedError) ErrorCode() int { return e.code }

func TestSubmitErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"eip1193 rejection", codedError{code: 4001}, KindTransactionRejected},
		{"user denied message", errors.New("MetaMask Tx Signature: User denied transaction signature"), KindTransactionRejected},
		{"insufficient funds", errors.New("insufficient funds for gas * price + value"), KindInsufficientFunds},
		{"sold out revert", errors.New("execution reverted: Sold out"), KindOversoldOnChain},
		{"already owns revert", errors.New("execution reverted: already has ticket"), KindAlreadyOwned},
		{"other revert", errors.New("execution reverted: paused"), KindReverted},
		{"network", errors.New("dial tcp: connection refused"), KindChainUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeKiosk()
			f.submitErr = fmt.Errorf("send purchaseTicket: %w", tt.err)

			attempt := newCoordinator(f).NewAttempt(4)
			_, err := attempt.Run(context.Background())
			if kind := kindOf(t, err); kind != tt.want {
				t.Errorf("kind = %s, want %s", kind, tt.want)
			}
			if attempt.TxHash() != (common.Hash{}) {
				t.Error("failed submit must not record a tx hash")
			}
		})
	}
}

func TestMinedRevertClassification(t *testing.T) {
	t.Run("oversold", func(t *testing.T) {
		f := newFakeKiosk()
		f.failStatus = true
		f.soldOnChain = f.total

		_, err := newCoordinator(f).NewAttempt(4).Run(context.Background())
		if kind := kindOf(t, err); kind != KindOversoldOnChain {
			t.Errorf("kind = %s", kind)
		}
	})
	t.Run("reverted", func(t *testing.T) {
		f := newFakeKiosk()
		f.failStatus = true

		_, err := newCoordinator(f).NewAttempt(4).Run(context.Background())
		if kind := kindOf(t, err); kind != KindReverted {
			t.Errorf("kind = %s", kind)
		}
	})
}

func TestAwaitFailureKeepsTxHash(t *testing.T) {
	f := newFakeKiosk()
	f.receiptErr = errors.New("connection reset")

	attempt := newCoordinator(f).NewAttempt(4)
	_, err := attempt.Run(context.Background())
	if kind := kindOf(t, err); kind != KindChainUnavailable {
		t.Errorf("kind = %s", kind)
	}
	if attempt.TxHash() == (common.Hash{}) {
		t.Error("tx hash must be kept for a submitted transaction")
	}
}

func TestKindBusiness(t *testing.T) {
	business := []Kind{KindEventNotFound, KindAlreadyOwned, KindSoldOut, KindEventEnded, KindNoKiosk, KindInsufficientFunds, KindTransactionRejected, KindOversoldOnChain}
	for _, k := range business {
		if !k.Business() {
			t.Errorf("%s should be a business outcome", k)
		}
	}
	for _, k := range []Kind{KindChainUnavailable, KindDecode, KindReverted, KindCancelled} {
		if k.Business() {
			t.Errorf("%s should not be a business outcome", k)
		}
	}
}

func TestErrorMessageAndKindOf(t *testing.T) {
	err := fmt.Errorf("buy: %w", &Error{Kind: KindSoldOut, Step: StepCheckAvailability})
	if KindOf(err) != KindSoldOut {
		t.Errorf("KindOf = %q", KindOf(err))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("KindOf on a plain error should be empty")
	}
	pe := &Error{Kind: KindInsufficientFunds}
	if !strings.Contains(pe.Message(), "Insufficient funds") {
		t.Errorf("message = %q", pe.Message())
	}
}

func TestConcurrentAttemptsFromOneWallet(t *testing.T) {
	f := newFakeKiosk()
	c := newCoordinator(f)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.NewAttempt(4).Run(context.Background())
		}(i)
	}
	wg.Wait()

	var ok, owned int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case KindOf(err) == KindAlreadyOwned:
			owned++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || owned != 1 {
		t.Errorf("expected one purchase and one AlreadyOwned, got ok=%d owned=%d", ok, owned)
	}
}
