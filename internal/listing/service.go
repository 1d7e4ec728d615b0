// Package listing aggregates registry events, kiosk sales counters and
// off-chain metadata into the cached event listing.
package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/user/stagepass/internal/cache"
	"github.com/user/stagepass/internal/clock"
	"github.com/user/stagepass/internal/metadata"
	"github.com/user/stagepass/internal/timing"
	"github.com/user/stagepass/internal/types"
)

const eventsKey = "events"

// Reader is the subset of chain reads the listing needs.
type Reader interface {
	TotalEvents(ctx context.Context) (uint64, error)
	Event(ctx context.Context, index uint64) (types.EventRecord, error)
	TokenURI(ctx context.Context, index uint64) (string, error)
	AllKiosks(ctx context.Context) (map[uint64]common.Address, error)
	SalesInfo(ctx context.Context, kiosk common.Address) (types.SalesInfo, error)
	UserTickets(ctx context.Context, kiosk, user common.Address) ([]uint64, error)
	TicketInfo(ctx context.Context, kiosk common.Address, ticketID uint64) (types.TicketRecord, error)
}

// Resolver turns a metadata URI into display fields and never fails.
type Resolver interface {
	Resolve(ctx context.Context, index uint64, uri string) types.Metadata
}

// Service serves the enriched event listing. The list and per-URI metadata
// live in two independent TTL caches.
type Service struct {
	reader   Reader
	resolver Resolver
	events   cache.Store[[]types.EventRecord]
	metadata cache.Store[types.Metadata]
	sched    *Scheduler
	clock    clock.Clock
}

// NewService wires a listing service. Both caches are owned by the service.
func NewService(reader Reader, resolver Resolver, events cache.Store[[]types.EventRecord], meta cache.Store[types.Metadata], sched *Scheduler, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Service{
		reader:   reader,
		resolver: resolver,
		events:   events,
		metadata: meta,
		sched:    sched,
		clock:    clk,
	}
}

// Events returns every readable event, newest start first. A cached list is
// served while fresh; phases are always recomputed against the clock.
func (s *Service) Events(ctx context.Context) ([]types.EventRecord, error) {
	list, err := cache.GetOrCompute(ctx, s.events, eventsKey, s.fetchAll)
	if err != nil {
		return nil, err
	}
	return s.withPhases(list), nil
}

// Refresh rebuilds the list from the chain and replaces the cached copy.
func (s *Service) Refresh(ctx context.Context) ([]types.EventRecord, error) {
	list, err := s.fetchAll(ctx)
	if err != nil {
		return nil, err
	}
	s.events.Put(ctx, eventsKey, list)
	return s.withPhases(list), nil
}

// Event reads one event directly from the chain, bypassing the list cache.
func (s *Service) Event(ctx context.Context, index uint64) (types.EventRecord, error) {
	ev, err := s.readEvent(ctx, index, nil)
	if err != nil {
		return types.EventRecord{}, err
	}
	ev.Phase = timing.PhaseAt(s.clock.Now(), ev.StartTime, ev.DurationMinutes)
	return ev, nil
}

// Metadata resolves uri through the metadata cache. Several events may share
// a URI, so cached entries carry no index: a document without a title is
// stored with an empty one and gets the caller's placeholder title on read.
// Full placeholders are not cached.
func (s *Service) Metadata(ctx context.Context, index uint64, uri string) types.Metadata {
	if uri == "" {
		return s.resolver.Resolve(ctx, index, uri)
	}
	placeholder := metadata.Placeholder(index)
	if md, ok := s.metadata.Get(ctx, uri); ok {
		if md.Title == "" {
			md.Title = placeholder.Title
		}
		return md
	}
	md := s.resolver.Resolve(ctx, index, uri)
	if md == placeholder {
		return md
	}
	shared := md
	if shared.Title == placeholder.Title {
		shared.Title = ""
	}
	s.metadata.Put(ctx, uri, shared)
	return md
}

func (s *Service) fetchAll(ctx context.Context) ([]types.EventRecord, error) {
	total, err := s.reader.TotalEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	kiosks, err := s.reader.AllKiosks(ctx)
	if err != nil {
		slog.Warn("kiosk directory unavailable, using per-event kiosk addresses", "error", err)
		kiosks = nil
	}

	var (
		mu   sync.Mutex
		list = make([]types.EventRecord, 0, total)
	)
	failed, err := s.sched.Run(ctx, total, func(ctx context.Context, index uint64) error {
		ev, err := s.readEvent(ctx, index, kiosks)
		if err != nil {
			return err
		}
		mu.Lock()
		list = append(list, ev)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(failed) > 0 {
		slog.Info("event listing incomplete", "total", total, "skipped", len(failed))
	}

	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].StartTime.Equal(list[j].StartTime) {
			return list[i].StartTime.After(list[j].StartTime)
		}
		return list[i].Index < list[j].Index
	})
	return list, nil
}

// readEvent issues getEvent and tokenURI concurrently, then fills sales
// counters and metadata. A tokenURI failure falls back to the registry's
// metadataURI; every other failure fails the index.
func (s *Service) readEvent(ctx context.Context, index uint64, kiosks map[uint64]common.Address) (types.EventRecord, error) {
	var (
		ev       types.EventRecord
		tokenURI string
		uriErr   error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ev, err = s.reader.Event(gctx, index)
		return err
	})
	g.Go(func() error {
		tokenURI, uriErr = s.reader.TokenURI(gctx, index)
		return nil
	})
	if err := g.Wait(); err != nil {
		return types.EventRecord{}, fmt.Errorf("read event %d: %w", index, err)
	}
	if uriErr != nil && !errors.Is(uriErr, context.Canceled) {
		slog.Debug("tokenURI unavailable, using registry metadataURI", "index", index, "error", uriErr)
	}
	if uriErr == nil && tokenURI != "" {
		ev.MetadataURI = tokenURI
	}

	if !ev.HasKiosk() {
		if addr, ok := kiosks[index]; ok {
			ev.KioskAddress = addr
		}
	}

	info, err := s.reader.SalesInfo(ctx, ev.KioskAddress)
	if err != nil {
		return types.EventRecord{}, fmt.Errorf("read sales for event %d: %w", index, err)
	}
	ev.MaxTickets = info.Total
	ev.SoldTickets = info.Sold
	ev.TicketPrice = info.Price
	if ev.Category == "" {
		ev.Category = info.Category
	}

	ev.Metadata = s.Metadata(ctx, index, ev.MetadataURI)
	return ev, nil
}

func (s *Service) withPhases(list []types.EventRecord) []types.EventRecord {
	now := s.clock.Now()
	out := make([]types.EventRecord, len(list))
	for i, ev := range list {
		ev.Phase = timing.PhaseAt(now, ev.StartTime, ev.DurationMinutes)
		out[i] = ev
	}
	return out
}

// UserTickets collects every ticket user holds across all deployed kiosks.
// Unreadable kiosks or tickets are skipped.
func (s *Service) UserTickets(ctx context.Context, user common.Address) ([]types.TicketRecord, error) {
	kiosks, err := s.reader.AllKiosks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list kiosks: %w", err)
	}

	indices := make([]uint64, 0, len(kiosks))
	for index := range kiosks {
		indices = append(indices, index)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	var (
		mu      sync.Mutex
		tickets []types.TicketRecord
	)
	_, err = s.sched.Run(ctx, uint64(len(indices)), func(ctx context.Context, i uint64) error {
		kiosk := kiosks[indices[i]]
		ids, err := s.reader.UserTickets(ctx, kiosk, user)
		if err != nil {
			return fmt.Errorf("tickets at kiosk %s: %w", kiosk.Hex(), err)
		}
		for _, id := range ids {
			t, err := s.reader.TicketInfo(ctx, kiosk, id)
			if err != nil {
				slog.Warn("skipping unreadable ticket", "kiosk", kiosk.Hex(), "ticket_id", id, "error", err)
				continue
			}
			mu.Lock()
			tickets = append(tickets, t)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tickets, func(i, j int) bool {
		if tickets[i].EventIndex != tickets[j].EventIndex {
			return tickets[i].EventIndex < tickets[j].EventIndex
		}
		return tickets[i].TicketID < tickets[j].TicketID
	})
	return tickets, nil
}
