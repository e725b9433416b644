package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/zalando/go-keyring"

	"github.com/m365mcp/m365-cache/pkg/log"
)

const (
	// KeySize is the encryption key length in bytes (AES-256).
	KeySize = 32

	// KeyringService and KeyringUser identify the key in the OS credential store.
	KeyringService = "m365-mcp-cache"
	KeyringUser    = "encryption-key"

	// KeyEnvVar holds the base64 key for headless deployments.
	KeyEnvVar = "M365_MCP_CACHE_KEY"
)

// Indirection over the OS credential store so tests can run without one.
var (
	keyringGet = keyring.Get
	keyringSet = keyring.Set
)

// LoadOrCreateKey obtains the 256-bit storage encryption key.
//
// Lookup order: OS credential store, then the M365_MCP_CACHE_KEY environment
// variable, then a newly generated key which is persisted back to the
// credential store on a best-effort basis. A credential store failure is
// never fatal; failure to generate a key is.
//
// Key material must never appear in logs or error messages.
func LoadOrCreateKey() ([]byte, error) {
	logger := log.WithComponent("security")

	if encoded, err := keyringGet(KeyringService, KeyringUser); err == nil {
		if key, err := DecodeKey(encoded); err == nil {
			logger.Debug().Str("source", "keyring").Msg("encryption key loaded")
			return key, nil
		}
		logger.Warn().Msg("keyring holds an invalid encryption key, ignoring")
	}

	if encoded := os.Getenv(KeyEnvVar); encoded != "" {
		if key, err := DecodeKey(encoded); err == nil {
			logger.Debug().Str("source", "env").Msg("encryption key loaded")
			return key, nil
		}
		logger.Warn().Str("var", KeyEnvVar).Msg("environment holds an invalid encryption key, ignoring")
	}

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}

	if err := keyringSet(KeyringService, KeyringUser, base64.StdEncoding.EncodeToString(key)); err != nil {
		logger.Warn().Msg("could not persist encryption key to the credential store")
	} else {
		logger.Info().Msg("generated new encryption key and stored it in the credential store")
	}

	return key, nil
}

// DecodeKey validates a base64-encoded key. Anything that does not decode to
// exactly KeySize bytes is treated as missing.
func DecodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("key is not valid base64")
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must decode to %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}
