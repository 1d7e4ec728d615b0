package purchase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/user/stagepass/internal/chain"
)

// ErrAttemptReused is returned when Run is called on an Attempt that has
// already run. Retrying a purchase requires a fresh Attempt.
var ErrAttemptReused = errors.New("purchase attempt already used")

// Kind classifies why a purchase failed.
type Kind string

const (
	KindChainUnavailable    Kind = "chain_unavailable"
	KindDecode              Kind = "decode_error"
	KindEventNotFound       Kind = "event_not_found"
	KindAlreadyOwned        Kind = "already_owned"
	KindSoldOut             Kind = "sold_out"
	KindEventEnded          Kind = "event_ended"
	KindNoKiosk             Kind = "no_kiosk"
	KindInsufficientFunds   Kind = "insufficient_funds"
	KindTransactionRejected Kind = "transaction_rejected"
	KindOversoldOnChain     Kind = "oversold_on_chain"
	KindReverted            Kind = "reverted"
	KindCancelled           Kind = "cancelled"
)

// Business reports whether the kind is an expected, user-facing outcome
// rather than an infrastructure failure.
func (k Kind) Business() bool {
	switch k {
	case KindEventNotFound, KindAlreadyOwned, KindSoldOut, KindEventEnded, KindNoKiosk,
		KindInsufficientFunds, KindTransactionRejected, KindOversoldOnChain:
		return true
	}
	return false
}

// Error is the failure of one purchase attempt at a given step.
type Error struct {
	Kind Kind
	Step Step
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("purchase %s at %s", e.Kind, e.Step)
	}
	return fmt.Sprintf("purchase %s at %s: %v", e.Kind, e.Step, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message is the text shown to the buyer.
func (e *Error) Message() string {
	switch e.Kind {
	case KindEventNotFound:
		return "This event does not exist."
	case KindAlreadyOwned:
		return "You already have a ticket for this event."
	case KindSoldOut:
		return "This event is sold out."
	case KindEventEnded:
		return "This event has already ended."
	case KindNoKiosk:
		return "Tickets for this event are not on sale yet."
	case KindInsufficientFunds:
		return "Insufficient funds to cover the ticket price and gas."
	case KindTransactionRejected:
		return "The transaction was rejected."
	case KindOversoldOnChain:
		return "The last ticket was sold before your purchase went through."
	case KindReverted:
		return "The purchase transaction was reverted by the contract."
	case KindCancelled:
		return "The purchase was cancelled before it was submitted."
	case KindDecode:
		return "The contract returned data this client could not read."
	default:
		return "The network is unavailable. Please try again later."
	}
}

// KindOf returns the Kind of a purchase error, or "" when err is not one.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// rpcCoder matches JSON-RPC and EIP-1193 errors that carry a code.
type rpcCoder interface {
	ErrorCode() int
}

// userRejectedCode is the EIP-1193 code wallets return when the user
// declines a request.
const userRejectedCode = 4001

// classifyRead maps a pre-submit read failure to a Kind.
func classifyRead(err error) Kind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, chain.ErrDecode):
		return KindDecode
	default:
		return KindChainUnavailable
	}
}

// classifySubmit inspects the wallet/transport error from sending the
// purchase transaction.
func classifySubmit(err error) Kind {
	var coder rpcCoder
	if errors.As(err, &coder) && coder.ErrorCode() == userRejectedCode {
		return KindTransactionRejected
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user rejected"),
		strings.Contains(msg, "user denied"),
		strings.Contains(msg, "rejected by user"):
		return KindTransactionRejected
	case strings.Contains(msg, "insufficient funds"):
		return KindInsufficientFunds
	case strings.Contains(msg, "sold out"),
		strings.Contains(msg, "soldout"),
		strings.Contains(msg, "no tickets"):
		return KindOversoldOnChain
	case strings.Contains(msg, "already has"),
		strings.Contains(msg, "already owns"):
		return KindAlreadyOwned
	case strings.Contains(msg, "execution reverted"):
		return KindReverted
	}
	return KindChainUnavailable
}
