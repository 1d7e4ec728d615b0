package chain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrChainUnavailable wraps RPC and network failures. The core never
	// retries these; retry is the transport's concern.
	ErrChainUnavailable = errors.New("chain unavailable")
	// ErrDecode marks a return value that did not match the expected shape.
	ErrDecode = errors.New("decode contract result")
	// ErrCallReverted marks a read call the contract itself rejected.
	ErrCallReverted = errors.New("contract call reverted")
)

// revertError matches the rpc error carrying revert data (rpc.DataError).
type revertError interface {
	Error() string
	ErrorData() interface{}
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var rev revertError
	if errors.As(err, &rev) && rev.ErrorData() != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrCallReverted, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrChainUnavailable, err)
}

func decodeErr(op, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", op, ErrDecode, fmt.Sprintf(format, args...))
}

// field accessors for abi.Unpack results; each reports a decode error on a
// type mismatch instead of defaulting.

func bigAt(op string, vals []interface{}, i int) (*big.Int, error) {
	if i >= len(vals) {
		return nil, decodeErr(op, "missing output %d", i)
	}
	v, ok := vals[i].(*big.Int)
	if !ok || v == nil {
		return nil, decodeErr(op, "output %d: want uint256, got %T", i, vals[i])
	}
	return v, nil
}

func uint64At(op string, vals []interface{}, i int) (uint64, error) {
	v, err := bigAt(op, vals, i)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, decodeErr(op, "output %d: %s overflows uint64", i, v)
	}
	return v.Uint64(), nil
}

func uint32At(op string, vals []interface{}, i int) (uint32, error) {
	v, err := uint64At(op, vals, i)
	if err != nil {
		return 0, err
	}
	if v > 1<<32-1 {
		return 0, decodeErr(op, "output %d: %d overflows uint32", i, v)
	}
	return uint32(v), nil
}

func addressAt(op string, vals []interface{}, i int) (common.Address, error) {
	if i >= len(vals) {
		return common.Address{}, decodeErr(op, "missing output %d", i)
	}
	v, ok := vals[i].(common.Address)
	if !ok {
		return common.Address{}, decodeErr(op, "output %d: want address, got %T", i, vals[i])
	}
	return v, nil
}

func stringAt(op string, vals []interface{}, i int) (string, error) {
	if i >= len(vals) {
		return "", decodeErr(op, "missing output %d", i)
	}
	v, ok := vals[i].(string)
	if !ok {
		return "", decodeErr(op, "output %d: want string, got %T", i, vals[i])
	}
	return v, nil
}

func boolAt(op string, vals []interface{}, i int) (bool, error) {
	if i >= len(vals) {
		return false, decodeErr(op, "missing output %d", i)
	}
	v, ok := vals[i].(bool)
	if !ok {
		return false, decodeErr(op, "output %d: want bool, got %T", i, vals[i])
	}
	return v, nil
}

// outputs walks an unpacked result, keeping the first decode error.
type outputs struct {
	op   string
	vals []interface{}
	err  error
}

func (o *outputs) big(i int) *big.Int {
	if o.err != nil {
		return nil
	}
	v, err := bigAt(o.op, o.vals, i)
	o.err = err
	return v
}

func (o *outputs) uint64(i int) uint64 {
	if o.err != nil {
		return 0
	}
	v, err := uint64At(o.op, o.vals, i)
	o.err = err
	return v
}

func (o *outputs) uint32(i int) uint32 {
	if o.err != nil {
		return 0
	}
	v, err := uint32At(o.op, o.vals, i)
	o.err = err
	return v
}

// unixTime reads a uint256 seconds value. Values past int64 cannot be a
// real timestamp and are a decode error.
func (o *outputs) unixTime(i int) time.Time {
	v := o.uint64(i)
	if o.err != nil {
		return time.Time{}
	}
	if v > math.MaxInt64 {
		o.err = decodeErr(o.op, "output %d: timestamp %d out of range", i, v)
		return time.Time{}
	}
	return time.Unix(int64(v), 0).UTC()
}

func (o *outputs) address(i int) common.Address {
	if o.err != nil {
		return common.Address{}
	}
	v, err := addressAt(o.op, o.vals, i)
	o.err = err
	return v
}

func (o *outputs) string(i int) string {
	if o.err != nil {
		return ""
	}
	v, err := stringAt(o.op, o.vals, i)
	o.err = err
	return v
}

func (o *outputs) bool(i int) bool {
	if o.err != nil {
		return false
	}
	v, err := boolAt(o.op, o.vals, i)
	o.err = err
	return v
}
