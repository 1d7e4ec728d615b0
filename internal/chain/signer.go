package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Backend is what a SigningClient needs from the RPC connection.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// SigningClient is a ReadOnlyClient that can also send purchase
// transactions from one account. It is only constructed from an explicit
// private key.
type SigningClient struct {
	*ReadOnlyClient
	backend      Backend
	key          *ecdsa.PrivateKey
	from         common.Address
	chainID      *big.Int
	pollInterval time.Duration
}

// NewSigningClient wraps reader with the ability to sign for key on chainID.
func NewSigningClient(reader *ReadOnlyClient, backend Backend, key *ecdsa.PrivateKey, chainID *big.Int) *SigningClient {
	return &SigningClient{
		ReadOnlyClient: reader,
		backend:        backend,
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		chainID:        new(big.Int).Set(chainID),
		pollInterval:   2 * time.Second,
	}
}

// ParsePrivateKey accepts a hex key with or without the 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// AddressOf returns the account controlled by key.
func AddressOf(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// Address is the account the client signs for.
func (c *SigningClient) Address() common.Address {
	return c.from
}

// SubmitPurchase signs and broadcasts kiosk.purchaseTicket() carrying value
// wei. The returned error is the transport's, unclassified.
func (c *SigningClient) SubmitPurchase(ctx context.Context, kiosk common.Address, value *big.Int) (common.Hash, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("create transactor: %w", err)
	}
	opts.Context = ctx
	opts.Value = new(big.Int).Set(value)

	contract := bind.NewBoundContract(kiosk, kioskABI, c.backend, c.backend, c.backend)
	tx, err := contract.Transact(opts, "purchaseTicket")
	if err != nil {
		return common.Hash{}, fmt.Errorf("send purchaseTicket: %w", err)
	}
	return tx.Hash(), nil
}

// AwaitReceipt polls until the transaction is mined or ctx ends. There is no
// timeout of its own.
func (c *SigningClient) AwaitReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, unavailable("wait receipt", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
