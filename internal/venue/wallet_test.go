package venue

import (
	"testing"

	solana "github.com/gagliardetto/solana-go"
)

func TestLoadPrivateKeyFromEnv(t *testing.T) {
	wallet := solana.NewWallet()
	t.Setenv("SPREADBOT_PRIVATE_KEY_BASE58", wallet.PrivateKey.String())

	key, err := LoadPrivateKey("")
	if err != nil {
		t.Fatalf("LoadPrivateKey returned error: %v", err)
	}
	if !key.PublicKey().Equals(wallet.PublicKey()) {
		t.Fatalf("loaded key does not match")
	}
}

func TestLoadPrivateKeyConfigFallback(t *testing.T) {
	wallet := solana.NewWallet()
	t.Setenv("SPREADBOT_PRIVATE_KEY_BASE58", "")

	key, err := LoadPrivateKey(wallet.PrivateKey.String())
	if err != nil {
		t.Fatalf("LoadPrivateKey returned error: %v", err)
	}
	if !key.PublicKey().Equals(wallet.PublicKey()) {
		t.Fatalf("loaded key does not match fallback")
	}
}

func TestLoadPrivateKeyMissing(t *testing.T) {
	t.Setenv("SPREADBOT_PRIVATE_KEY_BASE58", "")
	if _, err := LoadPrivateKey(""); err == nil {
		t.Fatalf("expected error when no key available")
	}
}
