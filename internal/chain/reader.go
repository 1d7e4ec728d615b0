// Package chain reads the event registry and per-event kiosk contracts and
// submits ticket purchases.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"strconv"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/user/stagepass/internal/types"
)

// ReadOnlyClient performs view calls against the registry and kiosks. It
// holds no mutable state apart from its rate limiter and is safe for
// concurrent use.
type ReadOnlyClient struct {
	caller   ethereum.ContractCaller
	registry common.Address
	limiter  *rate.Limiter
}

// Option configures a ReadOnlyClient.
type Option func(*ReadOnlyClient)

// WithRateLimit caps outbound view calls at rps per second with the given
// burst. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *ReadOnlyClient) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewReadOnlyClient creates a reader for the registry at the given address.
func NewReadOnlyClient(caller ethereum.ContractCaller, registry common.Address, opts ...Option) *ReadOnlyClient {
	c := &ReadOnlyClient{
		caller:   caller,
		registry: registry,
		limiter:  rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the registry contract address.
func (c *ReadOnlyClient) Registry() common.Address {
	return c.registry
}

func (c *ReadOnlyClient) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) (*outputs, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limiter: %w", method, err)
	}

	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	raw, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, unavailable(method, err)
	}
	if len(raw) == 0 {
		return nil, decodeErr(method, "empty return data from %s", to.Hex())
	}

	vals, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, decodeErr(method, "%v", err)
	}
	return &outputs{op: method, vals: vals}, nil
}

// TotalEvents returns the number of events created in the registry.
func (c *ReadOnlyClient) TotalEvents(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, registryABI, c.registry, "totalEvents")
	if err != nil {
		return 0, err
	}
	n := out.uint64(0)
	return n, out.err
}

// Event reads the registry's static attributes for index. Kiosk sales
// counters and metadata are not filled in.
func (c *ReadOnlyClient) Event(ctx context.Context, index uint64) (types.EventRecord, error) {
	out, err := c.call(ctx, registryABI, c.registry, "getEvent", new(big.Int).SetUint64(index))
	if err != nil {
		return types.EventRecord{}, err
	}

	ev := types.EventRecord{
		Index:           index,
		Creator:         out.address(0),
		KioskAddress:    out.address(1),
		StartTime:       out.unixTime(2),
		DurationMinutes: out.uint32(3),
		ReservePrice:    out.big(4),
		Finalized:       out.bool(5),
		MetadataURI:     out.string(6),
		Category:        out.string(7),
		TicketPrice:     new(big.Int),
	}
	if out.err != nil {
		return types.EventRecord{}, out.err
	}
	return ev, nil
}

// TokenURI returns the registry's metadata pointer for index.
func (c *ReadOnlyClient) TokenURI(ctx context.Context, index uint64) (string, error) {
	out, err := c.call(ctx, registryABI, c.registry, "tokenURI", new(big.Int).SetUint64(index))
	if err != nil {
		return "", err
	}
	uri := out.string(0)
	return uri, out.err
}

// AllKiosks maps event index to its deployed kiosk.
func (c *ReadOnlyClient) AllKiosks(ctx context.Context) (map[uint64]common.Address, error) {
	const op = "getAllTicketKiosks"
	out, err := c.call(ctx, registryABI, c.registry, op)
	if err != nil {
		return nil, err
	}
	ids, ok := out.vals[0].([]*big.Int)
	if !ok {
		return nil, decodeErr(op, "want uint256[], got %T", out.vals[0])
	}
	addrs, ok := out.vals[1].([]common.Address)
	if !ok {
		return nil, decodeErr(op, "want address[], got %T", out.vals[1])
	}
	if len(ids) != len(addrs) {
		return nil, decodeErr(op, "length mismatch: %d ids, %d kiosks", len(ids), len(addrs))
	}

	kiosks := make(map[uint64]common.Address, len(ids))
	for i, id := range ids {
		if !id.IsUint64() {
			return nil, decodeErr(op, "event id %s overflows uint64", id)
		}
		kiosks[id.Uint64()] = addrs[i]
	}
	return kiosks, nil
}

// SalesInfo reads a kiosk's live inventory. The zero address means no kiosk
// is deployed yet and yields an empty inventory without a call.
func (c *ReadOnlyClient) SalesInfo(ctx context.Context, kiosk common.Address) (types.SalesInfo, error) {
	if kiosk == (common.Address{}) {
		return types.SalesInfo{Price: new(big.Int)}, nil
	}
	out, err := c.call(ctx, kioskABI, kiosk, "getSalesInfo")
	if err != nil {
		return types.SalesInfo{}, err
	}
	info := types.SalesInfo{
		Total:     out.uint32(0),
		Sold:      out.uint32(1),
		Remaining: out.uint32(2),
		Price:     out.big(3),
		Category:  out.string(4),
	}
	if out.err != nil {
		return types.SalesInfo{}, out.err
	}
	return info, nil
}

// HasTicket reports whether user already holds a ticket for the event.
func (c *ReadOnlyClient) HasTicket(ctx context.Context, kiosk, user common.Address, index uint64) (bool, error) {
	out, err := c.call(ctx, kioskABI, kiosk, "hasTicketForEvent", user, new(big.Int).SetUint64(index))
	if err != nil {
		return false, err
	}
	owned := out.bool(0)
	return owned, out.err
}

// UserTickets lists the ticket ids user holds at kiosk.
func (c *ReadOnlyClient) UserTickets(ctx context.Context, kiosk, user common.Address) ([]uint64, error) {
	const op = "getUserTickets"
	out, err := c.call(ctx, kioskABI, kiosk, op, user)
	if err != nil {
		return nil, err
	}
	raw, ok := out.vals[0].([]*big.Int)
	if !ok {
		return nil, decodeErr(op, "want uint256[], got %T", out.vals[0])
	}
	ids := make([]uint64, 0, len(raw))
	for _, id := range raw {
		if !id.IsUint64() {
			return nil, decodeErr(op, "ticket id %s overflows uint64", id)
		}
		ids = append(ids, id.Uint64())
	}
	return ids, nil
}

// TicketInfo reads one ticket's record from its kiosk.
func (c *ReadOnlyClient) TicketInfo(ctx context.Context, kiosk common.Address, ticketID uint64) (types.TicketRecord, error) {
	out, err := c.call(ctx, kioskABI, kiosk, "getTicketInfo", new(big.Int).SetUint64(ticketID))
	if err != nil {
		return types.TicketRecord{}, err
	}
	t := types.TicketRecord{
		TicketID:          ticketID,
		EventIndex:        out.uint64(0),
		Owner:             out.address(1),
		OriginalOwner:     out.address(2),
		PurchasePrice:     out.big(3),
		PurchaseTimestamp: out.unixTime(4),
		Name:              out.string(5),
		Category:          out.string(6),
		MetadataURI:       out.string(7),
	}
	if out.err != nil {
		return types.TicketRecord{}, out.err
	}
	t.TicketNumber, t.TotalTickets = ticketSequence(t.Name)
	return t, nil
}

var sequencePattern = regexp.MustCompile(`#(\d+)(?:\s*(?:/|of)\s*(\d+))?\s*$`)

// ticketSequence reads the "#n" or "#n/total" suffix kiosks stamp into a
// ticket's name at mint time.
func ticketSequence(name string) (number, total uint32) {
	m := sequencePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, 0
	}
	if n, err := strconv.ParseUint(m[1], 10, 32); err == nil {
		number = uint32(n)
	}
	if m[2] != "" {
		if n, err := strconv.ParseUint(m[2], 10, 32); err == nil {
			total = uint32(n)
		}
	}
	return number, total
}
