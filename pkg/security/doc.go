/*
Package security provides encryption key management and value encryption for
the local cache database.

Every value the storage engine persists is sealed with AES-256-GCM before it
reaches the database file, so tokens, message bodies, and contact data are
never written to disk in plaintext. The package owns two concerns: obtaining
the 256-bit key (Box construction) and sealing/opening individual values.

# Key Management

The encryption key is resolved once at startup, in order of preference:

 1. OS credential store (macOS Keychain, Windows Credential Manager,
    Secret Service on Linux) under service "m365-mcp-cache",
    username "encryption-key"
 2. The M365_MCP_CACHE_KEY environment variable (base64, 32 bytes decoded),
    for headless and containerized deployments
 3. A freshly generated random key, persisted back to the credential store
    on a best-effort basis

A credential store failure is never fatal: the process continues with the
generated key and logs a warning. Failure to generate randomness is the only
fatal outcome. Invalid key material found in either source is ignored and
treated as missing.

Key material never appears in logs or error messages. DecodeKey reports
"not valid base64" or a length mismatch without echoing the input.

# Encryption Scheme

Box seals values with AES-256-GCM and a random 12-byte nonce:

 1. Generate random nonce
 2. Encrypt plaintext, producing ciphertext plus a 16-byte auth tag
 3. Prepend the nonce: [nonce || ciphertext || tag]

Open reverses the process and fails on any tampering or key mismatch. Because
every Seal call draws a fresh nonce, sealing the same plaintext twice yields
different bytes.

# Usage Examples

## Loading the Key and Building a Box

	key, err := security.LoadOrCreateKey()
	if err != nil {
		return err
	}

	box, err := security.NewBox(key)
	if err != nil {
		return err
	}

## Sealing and Opening Values

	sealed, err := box.Seal([]byte(`{"subject":"hello"}`))
	if err != nil {
		return err
	}

	plain, err := box.Open(sealed)
	if err != nil {
		return err // wrong key or tampered data
	}

# Limitations

  - There is no automatic key rotation; the m365cache-rekey tool re-seals an
    existing database under a new key offline.
  - The key lives in process memory for the lifetime of the server.
*/
package security
