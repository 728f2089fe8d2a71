// Package signer wraps the fee-sponsor key material for each ledger
// family. Key supply (file, environment, remote secret store) is the
// caller's concern; the facilitator only needs the capability to produce
// signatures and the sponsor's public address.
package signer

import (
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/x402labs/facilitator/types"
)

// EVM signs sponsor transactions with a secp256k1 key.
type EVM struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewEVM parses a hex-encoded private key, with or without 0x prefix.
func NewEVM(privateKeyHex string) (*EVM, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "invalid EVM private key")
	}
	return &EVM{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *EVM) Address() common.Address { return s.address }

// SignTx signs a sponsor transaction for the given chain.
func (s *EVM) SignTx(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "sign sponsor transaction")
	}
	return signed, nil
}
