package clients

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Minimal ERC-20 surface used for fee-asset checks plus the EIP-3009
// entrypoints found on USDC-style tokens.
const erc20ABI = `[
  {"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[],"name":"version","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[{"name":"authorizer","type":"address"},{"name":"nonce","type":"bytes32"}],"name":"authorizationState","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
  {"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"validAfter","type":"uint256"},{"name":"validBefore","type":"uint256"},{"name":"nonce","type":"bytes32"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"name":"transferWithAuthorization","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var parsedERC20 = func() abi.ABI {
	a, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(err)
	}
	return a
}()

// ERC20 wraps read calls and calldata packing for a single token contract.
type ERC20 struct {
	eth   *ethclient.Client
	token common.Address
}

// NewERC20 binds the helper to a token contract on eth.
func NewERC20(eth *ethclient.Client, token common.Address) *ERC20 {
	return &ERC20{eth: eth, token: token}
}

func (e *ERC20) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := parsedERC20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}
	out, err := e.eth.CallContract(ctx, ethereum.CallMsg{To: &e.token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("calling %s on %s: %w", method, e.token.Hex(), err)
	}
	res, err := parsedERC20.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpacking %s result: %w", method, err)
	}
	return res, nil
}

// BalanceOf returns the token balance of account.
func (e *ERC20) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	res, err := e.call(ctx, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	bal, ok := res[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned %T", res[0])
	}
	return bal, nil
}

// AuthorizationState reports whether the EIP-3009 nonce has been consumed
// for authorizer on this token.
func (e *ERC20) AuthorizationState(ctx context.Context, authorizer common.Address, nonce [32]byte) (bool, error) {
	res, err := e.call(ctx, "authorizationState", authorizer, nonce)
	if err != nil {
		return false, err
	}
	used, ok := res[0].(bool)
	if !ok {
		return false, fmt.Errorf("authorizationState returned %T", res[0])
	}
	return used, nil
}

// Name returns the token's EIP-712 domain name.
func (e *ERC20) Name(ctx context.Context) (string, error) {
	res, err := e.call(ctx, "name")
	if err != nil {
		return "", err
	}
	name, ok := res[0].(string)
	if !ok {
		return "", fmt.Errorf("name returned %T", res[0])
	}
	return name, nil
}

// Version returns the token's EIP-712 domain version. Tokens predating the
// version() getter surface the call error to the caller.
func (e *ERC20) Version(ctx context.Context) (string, error) {
	res, err := e.call(ctx, "version")
	if err != nil {
		return "", err
	}
	ver, ok := res[0].(string)
	if !ok {
		return "", fmt.Errorf("version returned %T", res[0])
	}
	return ver, nil
}

// PackTransferWithAuthorization builds the calldata for an EIP-3009 transfer
// with the signature split as v, r, s.
func (e *ERC20) PackTransferWithAuthorization(from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte, v uint8, r, s [32]byte) ([]byte, error) {
	return parsedERC20.Pack("transferWithAuthorization", from, to, value, validAfter, validBefore, nonce, v, r, s)
}

// SimulateTransferWithAuthorization runs the transfer as an eth_call from the
// sponsor address. A revert surfaces as an error before any gas is spent.
func (e *ERC20) SimulateTransferWithAuthorization(ctx context.Context, sponsor common.Address, calldata []byte) error {
	_, err := e.eth.CallContract(ctx, ethereum.CallMsg{
		From: sponsor,
		To:   &e.token,
		Data: calldata,
	}, nil)
	return err
}

// Token returns the bound contract address.
func (e *ERC20) Token() common.Address {
	return e.token
}
