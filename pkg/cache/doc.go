/*
Package cache implements the encrypted response cache for Microsoft 365 data.

The cache stores JSON-serialized API responses keyed by resource type,
account, and a digest of the request parameters. It is a best-effort
accelerator in front of the remote API: a broken cache read downgrades to a
miss and a failed write to a no-op, so callers never fail because of the
cache. The single exception is ErrEntryTooLarge, which rejects payloads over
the per-entry limit.

# Cache Keys

Keys have the form

	<resourceType>:<accountID>[:<paramHash>]

where paramHash is the first 8 hex characters of SHA-256 over the canonical
JSON rendering of the parameters (object keys sorted at every nesting level,
compact separators). Two requests with semantically equal parameters always
derive the same key, regardless of map iteration or construction order.
Requests without parameters use the two-segment form.

# Freshness Model

Every resource type carries a two-horizon TTL policy:

	0 ──────── Fresh ──────────── Stale ─────────▶ age
	│  served    │  served, flagged │  deleted on
	│  as fresh  │  stale           │  read (miss)

Callers receive the entry's state alongside the value and decide whether a
stale answer is acceptable or a refresh is warranted. Rarely changing data
(folder trees, contacts) gets long horizons; mail listings and search results
get short ones. Unmapped resource types fall back to 5/30 minutes.

# Storage Layout

Values are serialized to JSON and, at or above 50 KiB, gzip-compressed before
encryption. Payloads above 10 MiB are rejected. The underlying store keeps
entry metadata separate from payload bytes so bookkeeping scans stay cheap.

# Capacity and Eviction

A write that brings stored bytes to 80% of the configured maximum triggers an
eviction pass down to 60%: expired entries are removed first, then
least-recently-accessed entries. The pass runs in one storage transaction.

# Invalidation

InvalidatePattern deletes every entry whose key matches a glob pattern ('*'
matches any run of characters), optionally narrowed to one account:

	mgr.InvalidatePattern("email_list:*", "a@example.com", "email_send")

Invalidation never fails the caller; storage errors are logged and a zero
count returned. Every call appends a row to the invalidation audit log with
the pattern, reason, and number of entries removed.

# Usage Example

	mgr := cache.NewManager(store, cache.DefaultConfig())

	if data, state, ok := mgr.Get(accountID, "email_list", params); ok {
		if state == types.CacheStateFresh {
			return data, nil
		}
		// stale: serve it, maybe refresh in the background
	}

	data, err := fetchFromAPI(ctx, params)
	if err != nil {
		return nil, err
	}
	_ = mgr.Set(accountID, "email_list", params, data)
*/
package cache
