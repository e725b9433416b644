package security

import (
	"encoding/base64"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m365mcp/m365-cache/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

// stubKeyring replaces the credential store for one test.
func stubKeyring(t *testing.T, get func(service, user string) (string, error), set func(service, user, value string) error) {
	t.Helper()
	origGet, origSet := keyringGet, keyringSet
	keyringGet = get
	keyringSet = set
	t.Cleanup(func() {
		keyringGet = origGet
		keyringSet = origSet
	})
}

var errNoKeyring = errors.New("no credential store")

func TestDecodeKey(t *testing.T) {
	valid := base64.StdEncoding.EncodeToString(make([]byte, KeySize))

	tests := []struct {
		name    string
		encoded string
		wantErr bool
	}{
		{name: "valid 32-byte key", encoded: valid, wantErr: false},
		{name: "not base64", encoded: "!!!not-base64!!!", wantErr: true},
		{name: "too short", encoded: base64.StdEncoding.EncodeToString(make([]byte, 16)), wantErr: true},
		{name: "too long", encoded: base64.StdEncoding.EncodeToString(make([]byte, 48)), wantErr: true},
		{name: "empty", encoded: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := DecodeKey(tt.encoded)
			if tt.wantErr {
				assert.Error(t, err)
				// The encoded material must not leak through the error.
				if err != nil && tt.encoded != "" {
					assert.NotContains(t, err.Error(), tt.encoded)
				}
			} else {
				assert.NoError(t, err)
				assert.Len(t, key, KeySize)
			}
		})
	}
}

func TestLoadOrCreateKeyFromKeyring(t *testing.T) {
	t.Setenv(KeyEnvVar, "")

	stored := make([]byte, KeySize)
	stored[0] = 0x42
	encoded := base64.StdEncoding.EncodeToString(stored)

	stubKeyring(t,
		func(service, user string) (string, error) {
			assert.Equal(t, KeyringService, service)
			assert.Equal(t, KeyringUser, user)
			return encoded, nil
		},
		func(service, user, value string) error {
			t.Fatal("should not persist when the keyring already has a key")
			return nil
		},
	)

	key, err := LoadOrCreateKey()
	require.NoError(t, err)
	assert.Equal(t, stored, key)
}

func TestLoadOrCreateKeyFromEnv(t *testing.T) {
	stored := make([]byte, KeySize)
	stored[0] = 0x99
	t.Setenv(KeyEnvVar, base64.StdEncoding.EncodeToString(stored))

	stubKeyring(t,
		func(service, user string) (string, error) { return "", errNoKeyring },
		func(service, user, value string) error { return errNoKeyring },
	)

	key, err := LoadOrCreateKey()
	require.NoError(t, err)
	assert.Equal(t, stored, key)
}

func TestLoadOrCreateKeyGeneratesAndPersists(t *testing.T) {
	t.Setenv(KeyEnvVar, "")

	var persisted string
	stubKeyring(t,
		func(service, user string) (string, error) { return "", errNoKeyring },
		func(service, user, value string) error {
			persisted = value
			return nil
		},
	)

	key, err := LoadOrCreateKey()
	require.NoError(t, err)
	assert.Len(t, key, KeySize)

	require.NotEmpty(t, persisted)
	assert.Equal(t, base64.StdEncoding.EncodeToString(key), persisted)
}

func TestLoadOrCreateKeyKeyringWriteFailureIsNotFatal(t *testing.T) {
	t.Setenv(KeyEnvVar, "")

	stubKeyring(t,
		func(service, user string) (string, error) { return "", errNoKeyring },
		func(service, user, value string) error { return errNoKeyring },
	)

	key, err := LoadOrCreateKey()
	require.NoError(t, err)
	assert.Len(t, key, KeySize)
}

func TestLoadOrCreateKeyIgnoresInvalidSources(t *testing.T) {
	// Both the keyring and the environment hold garbage: a fresh key is
	// generated instead of failing.
	t.Setenv(KeyEnvVar, "not-a-key")

	stubKeyring(t,
		func(service, user string) (string, error) { return "too-short", nil },
		func(service, user, value string) error { return nil },
	)

	key, err := LoadOrCreateKey()
	require.NoError(t, err)
	assert.Len(t, key, KeySize)
}
