/*
Package search routes search requests to the correct remote API dialect per
account.

Microsoft 365 exposes two incompatible search surfaces. Work and school
accounts support the unified POST /search/query endpoint; personal accounts
do not, and fall back to per-kind GET endpoints with client-side filtering.
The router hides the split behind one API per search kind.

# Account Classification

The ClassResolver persists each account's class (personal, work_school) after
detecting it once, typically by probing the remote API through an injected
Detector. Concurrent first-time lookups for the same account are collapsed
into a single detection via singleflight. Detection failures yield "unknown"
without persisting, so the next call retries; unknown accounts are routed
through the unified dialect.

	Resolve(account)
	   │
	   ├── persisted record?  → return class
	   │
	   └── singleflight detect
	          ├── ok    → persist, return
	          └── error → unknown (not persisted)

# Dialects

	                personal                  work_school / unknown
	emails    GET /me/messages + filter       POST /search/query
	events    GET /me/events + filter         POST /search/query
	files     GET /me/drive/root/search(q=…)  POST /search/query
	contacts  GET /me/contacts $filter        GET /me/contacts $filter

The personal dialect fetches the most recent 5x limit items and filters them
case-insensitively over subject, preview, sender, and location fields.
Contacts have no unified-search support at all, so every class uses an OData
startswith(displayName, …) prefix filter with single quotes doubled.

Unified responses are flattened down the value[].hitsContainers[].hits[]
.resource path; multi-kind results are grouped by the resource's @odata.type
suffix. Kinds the caller did not request are dropped.

# Validation

Queries must be 1..512 characters (ErrInvalidQuery). Limits are clamped into
[1, 500] with a default of 50. UnifiedSearch entity types must be a non-empty
subset of message, event, driveItem (ErrInvalidEntityTypes).

# Usage Example

	resolver := search.NewClassResolver(store, detector)
	router := search.NewRouter(requester, resolver)

	class := router.ResolveClass(ctx, accountID)
	items, err := router.SearchEmails(ctx, accountID, class, "quarterly report", 25)
*/
package search
