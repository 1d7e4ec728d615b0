// internal/types/models.go
package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Phase is the lifecycle phase of an event, derived from its start time and
// duration. It is never persisted.
type Phase string

const (
	PhaseUpcoming  Phase = "upcoming"
	PhaseLive      Phase = "live"
	PhaseCompleted Phase = "completed"
)

type Metadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
}

// EventRecord is one on-chain live-performance listing merged with its kiosk
// sales counters and resolved off-chain metadata.
type EventRecord struct {
	Index           uint64         `json:"index"`
	Creator         common.Address `json:"creator"`
	StartTime       time.Time      `json:"start_time"`
	DurationMinutes uint32         `json:"duration_minutes"`
	ReservePrice    *big.Int       `json:"reserve_price"`
	TicketPrice     *big.Int       `json:"ticket_price"`
	MaxTickets      uint32         `json:"max_tickets"`
	SoldTickets     uint32         `json:"sold_tickets"`
	KioskAddress    common.Address `json:"kiosk_address"`
	MetadataURI     string         `json:"metadata_uri"`
	Category        string         `json:"category,omitempty"`
	Finalized       bool           `json:"finalized"`
	Metadata        Metadata       `json:"metadata"`
	Phase           Phase          `json:"phase"`
}

// HasKiosk reports whether a sales contract has been deployed for the event.
func (e EventRecord) HasKiosk() bool {
	return e.KioskAddress != (common.Address{})
}

// Remaining returns the number of unsold tickets.
func (e EventRecord) Remaining() uint32 {
	if e.SoldTickets >= e.MaxTickets {
		return 0
	}
	return e.MaxTickets - e.SoldTickets
}

// SalesInfo is a kiosk's live inventory snapshot.
type SalesInfo struct {
	Total     uint32   `json:"total"`
	Sold      uint32   `json:"sold"`
	Remaining uint32   `json:"remaining"`
	Price     *big.Int `json:"price"`
	Category  string   `json:"category,omitempty"`
}

// TicketRecord is one purchased ticket as reported by its kiosk.
type TicketRecord struct {
	TicketID          uint64         `json:"ticket_id"`
	EventIndex        uint64         `json:"event_index"`
	Owner             common.Address `json:"owner"`
	OriginalOwner     common.Address `json:"original_owner"`
	PurchasePrice     *big.Int       `json:"purchase_price"`
	PurchaseTimestamp time.Time      `json:"purchase_timestamp"`
	Name              string         `json:"name"`
	Category          string         `json:"category,omitempty"`
	MetadataURI       string         `json:"metadata_uri,omitempty"`
	TicketNumber      uint32         `json:"ticket_number,omitempty"`
	TotalTickets      uint32         `json:"total_tickets,omitempty"`
}

type PurchaseReceipt struct {
	AttemptID      AttemptID      `json:"attempt_id"`
	TicketID       uint64         `json:"ticket_id"`
	EventIndex     uint64         `json:"event_index"`
	TicketName     string         `json:"ticket_name"`
	PurchasePrice  *big.Int       `json:"purchase_price"`
	KioskAddress   common.Address `json:"kiosk_address"`
	TxHash         common.Hash    `json:"tx_hash"`
	CreatorAddress common.Address `json:"creator_address"`
	Buyer          common.Address `json:"buyer"`
	// FromLog is false when the mint log was missing and TicketID/TicketName
	// are fallback values.
	FromLog     bool      `json:"from_log"`
	PurchasedAt time.Time `json:"purchased_at"`
}
