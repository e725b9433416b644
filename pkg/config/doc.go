/*
Package config loads the process configuration from YAML with defaults.

An empty path yields the defaults unchanged; a config file overrides only the
fields it sets. The data directory defaults to <user config dir>/m365-mcp.

	data_dir: /var/lib/m365-mcp
	log_level: info
	metrics_addr: 127.0.0.1:9464
	cache:
	  max_entry_bytes: 10485760
	  max_total_bytes: 2147483648
	  compress_at_bytes: 51200
	worker:
	  max_retries: 3
	  initial_backoff_seconds: 1
	  stale_running_minutes: 10   # 0 disables the startup sweep
	warming:
	  accounts:
	    - a@example.com
	  max_rps: 4
*/
package config
