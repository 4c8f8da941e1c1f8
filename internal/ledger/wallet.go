package ledger

import (
	"fmt"

	"github.com/cosmos/cosmos-sdk/crypto/hd"
	cryptotypes "github.com/cosmos/cosmos-sdk/crypto/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	bip39 "github.com/cosmos/go-bip39"
)

// defaultDerivationPath is used when the caller does not supply one.
const defaultDerivationPath = "m/44'/118'/0'/0/0"

// Wallet is a single in-process signing handle derived deterministically
// from a mnemonic and an HD derivation path. Per spec §4.1/§5, the wallet
// signer is a single handle — sequential use is required to avoid
// account-sequence collisions on the Ledger, so callers serialize through
// Client's broadcast path rather than holding their own Wallet references.
type Wallet struct {
	privKey cryptotypes.PrivKey
	address sdk.AccAddress
}

// DeriveWallet turns a BIP-39 mnemonic plus an HD path into a deterministic
// signing key, the Cosmos-SDK equivalent of the teacher's WIF/SegWit wallet
// derivation in internal/wallet/btc.go.
func DeriveWallet(mnemonic, derivationPath string) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("ledger: invalid mnemonic")
	}
	if derivationPath == "" {
		derivationPath = defaultDerivationPath
	}

	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to derive seed: %w", err)
	}

	hdPath, err := hd.NewParamsFromPath(derivationPath)
	if err != nil {
		return nil, fmt.Errorf("ledger: invalid derivation path %q: %w", derivationPath, err)
	}

	master, ch := hd.ComputeMastersFromSeed(seed)
	derivedKey, err := hd.DerivePrivateKeyForPath(master, ch, hdPath.String())
	if err != nil {
		return nil, fmt.Errorf("ledger: key derivation failed: %w", err)
	}

	privKey := hd.Secp256k1.Generate()(derivedKey)
	address := sdk.AccAddress(privKey.PubKey().Address())

	return &Wallet{privKey: privKey, address: address}, nil
}

// Address returns the bech32-encoded account address for this wallet.
func (w *Wallet) Address() string {
	return w.address.String()
}

// AccAddress returns the raw Cosmos-SDK account address.
func (w *Wallet) AccAddress() sdk.AccAddress {
	return w.address
}

// Sign produces a detached secp256k1 signature over the given bytes —
// the SIGN_MODE_DIRECT sign-bytes of a broadcast transaction.
func (w *Wallet) Sign(signBytes []byte) ([]byte, error) {
	sig, err := w.privKey.Sign(signBytes)
	if err != nil {
		return nil, fmt.Errorf("ledger: signing failed: %w", err)
	}
	return sig, nil
}

// PubKey returns the wallet's public key, used to populate the tx's
// SignerInfo.
func (w *Wallet) PubKey() cryptotypes.PubKey {
	return w.privKey.PubKey()
}
