package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	keyring "github.com/zalando/go-keyring"
	bolt "go.etcd.io/bbolt"

	"github.com/m365mcp/m365-cache/pkg/security"
)

var (
	dataDir    = flag.String("data-dir", "", "Cache data directory (default: platform config dir)")
	dryRun     = flag.Bool("dry-run", false, "Verify every record decrypts without making changes")
	backupPath = flag.String("backup", "", "Path to backup the database before rekeying (default: <db>.backup)")
	newKeyEnv  = flag.String("new-key-env", "M365_MCP_CACHE_KEY_NEW", "Environment variable holding the base64 replacement key (generated if unset)")
)

// Every bucket the storage engine writes. All of their values are sealed with
// the same key, including the key-check sentinel.
var buckets = []string{
	"cache_entries",
	"cache_payloads",
	"cache_tasks",
	"cache_invalidation",
	"cache_stats",
	"account_classes",
	"schema_version",
}

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	log.Println("m365cache Key Rotation Tool")
	log.Println("===========================")

	dir := *dataDir
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			log.Fatalf("Cannot determine config dir: %v", err)
		}
		dir = filepath.Join(base, "m365-mcp")
	}

	dbPath := filepath.Join(dir, "m365-cache.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Database not found at %s", dbPath)
	}

	log.Printf("Database: %s", dbPath)
	log.Printf("Dry run: %v", *dryRun)

	oldKey, err := security.LoadOrCreateKey()
	if err != nil {
		log.Fatalf("Failed to load current encryption key: %v", err)
	}
	oldBox, err := security.NewBox(oldKey)
	if err != nil {
		log.Fatalf("Invalid current encryption key: %v", err)
	}

	newKey, generated, err := replacementKey()
	if err != nil {
		log.Fatalf("Failed to obtain replacement key: %v", err)
	}
	newBox, err := security.NewBox(newKey)
	if err != nil {
		log.Fatalf("Invalid replacement key: %v", err)
	}

	if !*dryRun {
		backupFile := *backupPath
		if backupFile == "" {
			backupFile = dbPath + ".backup"
		}
		log.Printf("Creating backup: %s", backupFile)
		if err := copyFile(dbPath, backupFile); err != nil {
			log.Fatalf("Failed to create backup: %v", err)
		}
		log.Println("✓ Backup created")
	}

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := rekey(db, oldBox, newBox, *dryRun); err != nil {
		log.Fatalf("Rekey failed: %v", err)
	}

	if *dryRun {
		log.Println("\nDry run completed. No changes made.")
		return
	}

	if generated {
		if err := keyring.Set(security.KeyringService, security.KeyringUser,
			base64.StdEncoding.EncodeToString(newKey)); err != nil {
			log.Printf("⚠ Could not store the new key in the credential store: %v", err)
			log.Printf("  Export it via %s before the next start, or the database will not open.", security.KeyEnvVar)
		} else {
			log.Println("✓ New key stored in the credential store")
		}
	} else {
		log.Printf("✓ Database rekeyed. Move the value of %s to %s (or the credential store) before the next start.",
			*newKeyEnv, security.KeyEnvVar)
	}
	log.Println("✓ Key rotation completed. Delete the backup once verified.")
}

// replacementKey reads the new key from the environment or generates one.
func replacementKey() ([]byte, bool, error) {
	if encoded := os.Getenv(*newKeyEnv); encoded != "" {
		key, err := security.DecodeKey(encoded)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", *newKeyEnv, err)
		}
		return key, false, nil
	}

	key := make([]byte, security.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, false, err
	}
	log.Println("No replacement key in the environment; generated a fresh one")
	return key, true, nil
}

// rekey re-seals every stored value under the new key in one transaction.
func rekey(db *bolt.DB, oldBox, newBox *security.Box, dryRun bool) error {
	total := 0
	return db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			b := tx.Bucket([]byte(name))
			if b == nil {
				continue
			}

			count := 0
			var keys [][]byte
			var values [][]byte

			err := b.ForEach(func(k, v []byte) error {
				plain, err := oldBox.Open(v)
				if err != nil {
					return fmt.Errorf("bucket %s: record %q does not decrypt with the current key", name, k)
				}
				if dryRun {
					count++
					return nil
				}
				sealed, err := newBox.Seal(plain)
				if err != nil {
					return err
				}
				key := make([]byte, len(k))
				copy(key, k)
				keys = append(keys, key)
				values = append(values, sealed)
				count++
				return nil
			})
			if err != nil {
				return err
			}

			for i := range keys {
				if err := b.Put(keys[i], values[i]); err != nil {
					return err
				}
			}

			total += count
			log.Printf("  %-20s %d records", name, count)
		}

		if dryRun {
			log.Printf("✓ All %d records decrypt with the current key", total)
		} else {
			log.Printf("✓ Re-encrypted %d records", total)
		}
		return nil
	})
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
