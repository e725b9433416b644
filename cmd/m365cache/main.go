package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/m365mcp/m365-cache/pkg/cache"
	"github.com/m365mcp/m365-cache/pkg/config"
	"github.com/m365mcp/m365-cache/pkg/log"
	"github.com/m365mcp/m365-cache/pkg/security"
	"github.com/m365mcp/m365-cache/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "m365cache",
	Short: "m365cache - Encrypted local cache and task queue for Microsoft 365 tools",
	Long: `m365cache manages the encrypted object cache and the durable background
task queue used by the Microsoft 365 integration server.

All commands operate directly on the local database file; the encryption
key is taken from the OS credential store or the M365_MCP_CACHE_KEY
environment variable.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"m365cache version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("data-dir", "", "Override the data directory")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(invalidateCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(keyCmd)
}

// loadConfig merges flags over the config file and initializes logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel)})
	return cfg, nil
}

// openStore loads the encryption key and opens the database.
func openStore(cmd *cobra.Command) (*storage.BoltStore, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	key, err := security.LoadOrCreateKey()
	if err != nil {
		return nil, nil, err
	}
	box, err := security.NewBox(key)
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.Open(cfg.DataDir, box)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open cache database: %v", err)
	}
	return store, cfg, nil
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cfg, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		mgr := cache.NewManager(store, cache.Config{
			MaxEntryBytes:   cfg.Cache.MaxEntryBytes,
			MaxTotalBytes:   cfg.Cache.MaxTotalBytes,
			CompressAtBytes: cfg.Cache.CompressAtBytes,
		})
		stats, err := mgr.Stats()
		if err != nil {
			return err
		}

		fmt.Printf("Entries:      %d\n", stats.Entries)
		fmt.Printf("Total size:   %s\n", humanBytes(stats.TotalBytes))
		fmt.Printf("Average size: %s\n", humanBytes(stats.AvgBytes))
		fmt.Printf("Capacity:     %s (%.1f%% used)\n", humanBytes(stats.MaxBytes), stats.UsagePct)
		fmt.Printf("Hits:         %d\n", stats.TotalHits)
		fmt.Printf("Misses:       %d\n", stats.TotalMiss)

		if len(stats.ByResource) > 0 {
			fmt.Println("\nEntries by resource type:")
			for resource, count := range stats.ByResource {
				fmt.Printf("  %-24s %d\n", resource, count)
			}
		}
		if len(stats.ByAccount) > 0 {
			fmt.Println("\nEntries by account:")
			for account, count := range stats.ByAccount {
				fmt.Printf("  %-24s %d\n", account, count)
			}
		}
		return nil
	},
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <pattern>",
	Short: "Invalidate cache entries matching a glob pattern",
	Long: `Invalidate deletes every cache entry whose key matches the pattern,
where '*' matches any run of characters. Examples:

  m365cache invalidate 'email_list:*'
  m365cache invalidate 'folder_get_tree:*' --account user@example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, _ := cmd.Flags().GetString("account")
		reason, _ := cmd.Flags().GetString("reason")

		store, cfg, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		mgr := cache.NewManager(store, cache.Config{
			MaxEntryBytes:   cfg.Cache.MaxEntryBytes,
			MaxTotalBytes:   cfg.Cache.MaxTotalBytes,
			CompressAtBytes: cfg.Cache.CompressAtBytes,
		})
		count := mgr.InvalidatePattern(args[0], accountID, reason)
		fmt.Printf("✓ Invalidated %d entries\n", count)
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete all expired cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cfg, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		mgr := cache.NewManager(store, cache.Config{
			MaxEntryBytes:   cfg.Cache.MaxEntryBytes,
			MaxTotalBytes:   cfg.Cache.MaxTotalBytes,
			CompressAtBytes: cfg.Cache.CompressAtBytes,
		})
		count := mgr.CleanupExpired()
		fmt.Printf("✓ Removed %d expired entries\n", count)
		return nil
	},
}

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Ensure the encryption key exists",
	Long: `Key loads the storage encryption key from the OS credential store or the
M365_MCP_CACHE_KEY environment variable, generating and persisting a new
one if neither is set. The key itself is never printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(cmd); err != nil {
			return err
		}
		if _, err := security.LoadOrCreateKey(); err != nil {
			return err
		}
		fmt.Println("✓ Encryption key is available")
		return nil
	},
}

func init() {
	invalidateCmd.Flags().String("account", "", "Limit invalidation to one account")
	invalidateCmd.Flags().String("reason", "manual", "Reason recorded in the invalidation log")
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
