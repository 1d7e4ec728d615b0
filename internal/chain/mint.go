package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// MintLog is the decoded TicketMinted event a kiosk emits on purchase.
type MintLog struct {
	TicketID   uint64
	Buyer      common.Address
	TicketName string
	Category   string
	Price      *big.Int
}

// ParseMint scans receipt for the first TicketMinted log emitted by kiosk.
// ok is false when no such log decodes cleanly.
func ParseMint(receipt *ethtypes.Receipt, kiosk common.Address) (MintLog, bool) {
	if receipt == nil {
		return MintLog{}, false
	}
	event := kioskABI.Events["TicketMinted"]
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != kiosk || len(lg.Topics) < 3 || lg.Topics[0] != event.ID {
			continue
		}
		id := lg.Topics[1].Big()
		if !id.IsUint64() {
			continue
		}
		vals, err := kioskABI.Unpack("TicketMinted", lg.Data)
		if err != nil {
			continue
		}
		out := &outputs{op: "TicketMinted", vals: vals}
		m := MintLog{
			TicketID:   id.Uint64(),
			Buyer:      common.BytesToAddress(lg.Topics[2].Bytes()),
			TicketName: out.string(0),
			Category:   out.string(1),
			Price:      out.big(2),
		}
		if out.err != nil {
			continue
		}
		return m, true
	}
	return MintLog{}, false
}
