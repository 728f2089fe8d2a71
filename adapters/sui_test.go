package adapters

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/block-vision/sui-go-sdk/models"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/x402labs/facilitator/types"
)

func signSuiTxBytes(t *testing.T, txBytes []byte) (serialized string, address string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	intent := append([]byte{0, 0, 0}, txBytes...)
	digest := blake2b.Sum256(intent)
	sig := ed25519.Sign(priv, digest[:])

	raw := append([]byte{0x00}, sig...)
	raw = append(raw, pub...)

	addrInput := append([]byte{0x00}, pub...)
	addr := blake2b.Sum256(addrInput)
	return base64.StdEncoding.EncodeToString(raw), "0x" + hex.EncodeToString(addr[:])
}

func TestVerifyPayerSignature(t *testing.T) {
	txBytes := []byte("transaction bytes under test")
	serialized, wantAddr := signSuiTxBytes(t, txBytes)

	addr, err := verifyPayerSignature(txBytes, serialized)
	require.NoError(t, err)
	require.Equal(t, wantAddr, addr)
}

func TestVerifyPayerSignatureRejectsTampering(t *testing.T) {
	txBytes := []byte("transaction bytes under test")
	serialized, _ := signSuiTxBytes(t, txBytes)

	_, err := verifyPayerSignature([]byte("different bytes"), serialized)
	require.Equal(t, types.ErrSignatureInvalid, types.KindOf(err))

	_, err = verifyPayerSignature(txBytes, "@@@")
	require.Equal(t, types.ErrDecoding, types.KindOf(err))

	short := base64.StdEncoding.EncodeToString([]byte{0x00, 0x01})
	_, err = verifyPayerSignature(txBytes, short)
	require.Equal(t, types.ErrDecoding, types.KindOf(err))
}

func TestCreditsRecipient(t *testing.T) {
	const coin = "0xdba34672e30cb065b1f93e3ab55318768fd6fef66c15942c9f7cb846e2f900e7::usdc::USDC"
	changes := []models.BalanceChanges{
		{Owner: models.ObjectOwner{AddressOwner: "0xPAYER"}, CoinType: coin, Amount: "-10000"},
		{Owner: models.ObjectOwner{AddressOwner: "0xMERCHANT"}, CoinType: coin, Amount: "10000"},
	}

	require.True(t, creditsRecipient(changes, "0xmerchant", coin, big.NewInt(10000)))
	require.False(t, creditsRecipient(changes, "0xmerchant", coin, big.NewInt(10001)))
	// Over-crediting is a mismatch too; the credit must be exact.
	require.False(t, creditsRecipient(changes, "0xmerchant", coin, big.NewInt(9999)))
	require.False(t, creditsRecipient(changes, "0xmerchant", "0x2::sui::SUI", big.NewInt(1)))
	require.False(t, creditsRecipient(changes, "0xelse", coin, big.NewInt(1)))
}

func TestGasTotal(t *testing.T) {
	total, err := gasTotal(models.GasCostSummary{ComputationCost: "1000", StorageCost: "250"})
	require.NoError(t, err)
	require.EqualValues(t, 1250, total)

	_, err = gasTotal(models.GasCostSummary{ComputationCost: "NaN", StorageCost: "0"})
	require.Error(t, err)
}
