/*
Package warmer seeds the cache at startup so first interactions hit warm data.

The warmer executes a plan of read operations for every configured account,
ordered by priority: the folder tree first, then the inbox listing, then
contacts. It owns a single goroutine, runs independently of the background
worker, and writes results straight into the cache.

# Behavior

	for each (account, plan item) ordered by priority:
	    already fresh in cache?  → skip
	    rate limiter wait        (global requests-per-second cap)
	    execute operation for the item's account
	    failure?                 → count it, continue with the next item
	    write result to the item's account cache
	    per-item throttle sleep

The warmer's Executor receives the account ID with every call: the same plan
item is executed once per account, and each result is cached under the
account it was fetched for.

Individual failures never abort the batch; an account with a revoked token
simply contributes failed items to the telemetry. Entries a user already
pulled into the cache moments before are skipped rather than refetched.

Warming pressure on the remote API is bounded twice: a global rate limiter
(default 4 requests per second) and a per-item throttle carried in the plan.

# Telemetry

Status returns a point-in-time snapshot: total/completed/skipped/failed
counts, progress percentage, and elapsed duration. Start during an active run
is a no-op, so an accidental double trigger cannot reset progress.

# Custom Plans

The default plan covers the hottest read paths. Deployments can override it
in the YAML config:

	warming:
	  accounts:
	    - a@example.com
	  max_rps: 2
	  plan:
	    - operation: email_list
	      params:
	        folder_id: inbox
	        limit: 50
	      priority: 1
	      throttle_seconds: 2
*/
package warmer
