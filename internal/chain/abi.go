package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Only the methods and events this client touches are declared.

const registryABIJSON = `[
  {"type":"function","name":"totalEvents","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getEvent","stateMutability":"view",
   "inputs":[{"name":"eventId","type":"uint256"}],
   "outputs":[
     {"name":"creator","type":"address"},
     {"name":"kioskAddress","type":"address"},
     {"name":"startDate","type":"uint256"},
     {"name":"eventDuration","type":"uint256"},
     {"name":"reservePrice","type":"uint256"},
     {"name":"finalized","type":"bool"},
     {"name":"metadataURI","type":"string"},
     {"name":"artCategory","type":"string"}]},
  {"type":"function","name":"tokenURI","stateMutability":"view",
   "inputs":[{"name":"eventId","type":"uint256"}],
   "outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"getAllTicketKiosks","stateMutability":"view","inputs":[],
   "outputs":[{"name":"eventIds","type":"uint256[]"},{"name":"kioskAddresses","type":"address[]"}]}
]`

const kioskABIJSON = `[
  {"type":"function","name":"getSalesInfo","stateMutability":"view","inputs":[],
   "outputs":[
     {"name":"totalTickets","type":"uint256"},
     {"name":"soldTickets","type":"uint256"},
     {"name":"remainingTickets","type":"uint256"},
     {"name":"price","type":"uint256"},
     {"name":"artCategory","type":"string"}]},
  {"type":"function","name":"hasTicketForEvent","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"},{"name":"eventId","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getUserTickets","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"}],
   "outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"getTicketInfo","stateMutability":"view",
   "inputs":[{"name":"ticketId","type":"uint256"}],
   "outputs":[
     {"name":"eventId","type":"uint256"},
     {"name":"owner","type":"address"},
     {"name":"originalOwner","type":"address"},
     {"name":"purchasePrice","type":"uint256"},
     {"name":"purchaseTimestamp","type":"uint256"},
     {"name":"name","type":"string"},
     {"name":"artCategory","type":"string"},
     {"name":"metadataURI","type":"string"}]},
  {"type":"function","name":"purchaseTicket","stateMutability":"payable","inputs":[],
   "outputs":[{"name":"ticketId","type":"uint256"}]},
  {"type":"event","name":"TicketMinted","anonymous":false,
   "inputs":[
     {"name":"ticketId","type":"uint256","indexed":true},
     {"name":"buyer","type":"address","indexed":true},
     {"name":"ticketName","type":"string","indexed":false},
     {"name":"artCategory","type":"string","indexed":false},
     {"name":"price","type":"uint256","indexed":false}]}
]`

var (
	registryABI = mustParseABI(registryABIJSON)
	kioskABI    = mustParseABI(kioskABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: invalid embedded abi: " + err.Error())
	}
	return parsed
}
