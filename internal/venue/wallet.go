package venue

import (
	"errors"
	"os"

	solana "github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
)

// LoadPrivateKey resolves the signing key for the venue gateway, preferring
// the SPREADBOT_PRIVATE_KEY_BASE58 environment variable over the config
// fallback so keys stay out of checked-in yaml.
func LoadPrivateKey(configFallback string) (solana.PrivateKey, error) {
	_ = godotenv.Load() // best-effort
	b58 := os.Getenv("SPREADBOT_PRIVATE_KEY_BASE58")
	if b58 == "" {
		b58 = configFallback
	}
	if b58 == "" {
		return nil, errors.New("SPREADBOT_PRIVATE_KEY_BASE58 not set and no wallet key in config")
	}
	return solana.PrivateKeyFromBase58(b58)
}
