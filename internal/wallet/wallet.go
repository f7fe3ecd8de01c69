package wallet

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"crowdfund/internal/campaign"
	"crowdfund/internal/contract"
)

// Disconnected is the address reported by a wallet with no account.
const Disconnected = "-"

// ErrDeclined is returned when the signer refuses an envelope.
var ErrDeclined = errors.New("signing declined")

// Wallet is the signing capability supplied by the wallet provider.
type Wallet interface {
	Address() string
	IsConnected() bool
	SignTransaction(ctx context.Context, env contract.Envelope) (contract.SignedEnvelope, error)
}

// None is a wallet with no connected account.
type None struct{}

func (None) Address() string   { return Disconnected }
func (None) IsConnected() bool { return false }

func (None) SignTransaction(context.Context, contract.Envelope) (contract.SignedEnvelope, error) {
	return contract.SignedEnvelope{}, campaign.ErrNotConnected
}

// KeyedWallet signs envelopes with a local private key, scoped to one network.
type KeyedWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	network contract.Network
	signer  types.Signer
}

func NewKeyedWallet(hexKey string, network contract.Network) (*KeyedWallet, error) {
	key, err := parsePrivateKey(hexKey)
	if err != nil {
		return nil, err
	}
	if network.ChainID == 0 {
		return nil, fmt.Errorf("chain id is required for network %q", network.Name)
	}
	return &KeyedWallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		network: network,
		signer:  types.LatestSignerForChainID(big.NewInt(network.ChainID)),
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (w *KeyedWallet) Address() string   { return w.address.Hex() }
func (w *KeyedWallet) IsConnected() bool { return true }

func (w *KeyedWallet) SignTransaction(_ context.Context, env contract.Envelope) (contract.SignedEnvelope, error) {
	if env.NetworkPassphrase != w.network.Passphrase {
		return contract.SignedEnvelope{}, fmt.Errorf("%w: envelope for %q, wallet on %q",
			ErrDeclined, env.NetworkPassphrase, w.network.Passphrase)
	}
	if !strings.EqualFold(env.Source, w.address.Hex()) {
		return contract.SignedEnvelope{}, fmt.Errorf("%w: envelope source %s is not %s", ErrDeclined, env.Source, w.address.Hex())
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(env.Raw); err != nil {
		return contract.SignedEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	signed, err := types.SignTx(tx, w.signer, w.key)
	if err != nil {
		return contract.SignedEnvelope{}, fmt.Errorf("sign: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return contract.SignedEnvelope{}, fmt.Errorf("encode signed envelope: %w", err)
	}
	return contract.SignedEnvelope{
		NetworkPassphrase: env.NetworkPassphrase,
		Raw:               raw,
		Hash:              signed.Hash().Hex(),
	}, nil
}

// FakeWallet approves every envelope for its address and hashes the payload
// in place of a signature. Pairs with contract.FakeContract.
type FakeWallet struct {
	Account string
	Decline bool
}

func (w FakeWallet) Address() string {
	if w.Account == "" {
		return Disconnected
	}
	return w.Account
}

func (w FakeWallet) IsConnected() bool { return w.Account != "" }

func (w FakeWallet) SignTransaction(_ context.Context, env contract.Envelope) (contract.SignedEnvelope, error) {
	if !w.IsConnected() {
		return contract.SignedEnvelope{}, campaign.ErrNotConnected
	}
	if w.Decline {
		return contract.SignedEnvelope{}, ErrDeclined
	}
	sum := sha256.Sum256(append([]byte(w.Account), env.Raw...))
	return contract.SignedEnvelope{
		NetworkPassphrase: env.NetworkPassphrase,
		Raw:               env.Raw,
		Hash:              "0x" + hex.EncodeToString(sum[:]),
	}, nil
}
