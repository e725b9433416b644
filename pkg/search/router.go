package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/m365mcp/m365-cache/pkg/log"
	"github.com/m365mcp/m365-cache/pkg/types"
)

// Requester performs one signed request against the remote Graph API.
// Implemented by the HTTP client layer.
type Requester interface {
	Request(ctx context.Context, method, path, accountID string, query url.Values, body any) (json.RawMessage, error)
}

var (
	// ErrInvalidQuery is returned for queries outside 1..512 characters.
	ErrInvalidQuery = errors.New("search: query must be between 1 and 512 characters")

	// ErrInvalidEntityTypes is returned when entity types are empty or
	// contain an unsupported kind.
	ErrInvalidEntityTypes = errors.New("search: entity types must be a non-empty subset of message, event, driveItem")
)

const (
	maxQueryLength = 512
	maxLimit       = 500
	defaultLimit   = 50

	// Personal accounts have no unified search endpoint; emails and events
	// are filtered client-side over the most recent scanFactor*limit items.
	personalScanFactor = 5
)

// Supported unified-search entity types.
var validEntityTypes = map[string]bool{
	"message":   true,
	"event":     true,
	"driveItem": true,
}

// Router dispatches search requests to one of two remote API dialects based
// on account class. Personal accounts use per-kind endpoints with
// client-side filtering; work/school (and unknown) accounts use the unified
// POST /search/query endpoint.
type Router struct {
	requester Requester
	classes   *ClassResolver
	logger    zerolog.Logger
}

// NewRouter creates a search router.
func NewRouter(requester Requester, classes *ClassResolver) *Router {
	return &Router{
		requester: requester,
		classes:   classes,
		logger:    log.WithComponent("search"),
	}
}

// ResolveClass returns the account's class from the persisted class cache,
// detecting it on first use.
func (r *Router) ResolveClass(ctx context.Context, accountID string) types.AccountClass {
	return r.classes.Resolve(ctx, accountID)
}

// SearchEmails searches messages for the account.
func (r *Router) SearchEmails(ctx context.Context, accountID string, class types.AccountClass, query string, limit int) ([]map[string]any, error) {
	limit, err := validate(query, limit)
	if err != nil {
		return nil, err
	}
	if class == types.AccountClassPersonal {
		return r.searchEmailsPersonal(ctx, accountID, query, limit)
	}
	return r.searchUnifiedKind(ctx, accountID, "message", query, limit)
}

// SearchEvents searches calendar events for the account.
func (r *Router) SearchEvents(ctx context.Context, accountID string, class types.AccountClass, query string, limit int) ([]map[string]any, error) {
	limit, err := validate(query, limit)
	if err != nil {
		return nil, err
	}
	if class == types.AccountClassPersonal {
		return r.searchEventsPersonal(ctx, accountID, query, limit)
	}
	return r.searchUnifiedKind(ctx, accountID, "event", query, limit)
}

// SearchFiles searches drive items for the account.
func (r *Router) SearchFiles(ctx context.Context, accountID string, class types.AccountClass, query string, limit int) ([]map[string]any, error) {
	limit, err := validate(query, limit)
	if err != nil {
		return nil, err
	}
	if class == types.AccountClassPersonal {
		return r.searchFilesPersonal(ctx, accountID, query, limit)
	}
	return r.searchUnifiedKind(ctx, accountID, "driveItem", query, limit)
}

// SearchContacts searches contacts. Contacts have no unified-search support,
// so every account class uses the prefix filter.
func (r *Router) SearchContacts(ctx context.Context, accountID string, _ types.AccountClass, query string, limit int) ([]map[string]any, error) {
	limit, err := validate(query, limit)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("$filter", fmt.Sprintf("startswith(displayName,'%s')", escapeODataString(query)))
	q.Set("$top", strconv.Itoa(limit))
	raw, err := r.requester.Request(ctx, http.MethodGet, "/me/contacts", accountID, q, nil)
	if err != nil {
		return nil, fmt.Errorf("contact search failed: %w", err)
	}
	return decodeList(raw)
}

// UnifiedSearch searches several entity kinds at once and returns results
// keyed by kind. Personal accounts fan out sequentially across the per-kind
// paths; other classes issue one batched unified-search request.
func (r *Router) UnifiedSearch(ctx context.Context, accountID string, class types.AccountClass, query string, entityTypes []string, limit int) (map[string][]map[string]any, error) {
	limit, err := validate(query, limit)
	if err != nil {
		return nil, err
	}
	if len(entityTypes) == 0 {
		return nil, ErrInvalidEntityTypes
	}
	for _, et := range entityTypes {
		if !validEntityTypes[et] {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEntityTypes, et)
		}
	}

	if class == types.AccountClassPersonal {
		return r.unifiedPersonal(ctx, accountID, query, entityTypes, limit)
	}
	return r.unifiedWorkSchool(ctx, accountID, query, entityTypes, limit)
}

// Personal dialect

func (r *Router) searchEmailsPersonal(ctx context.Context, accountID, query string, limit int) ([]map[string]any, error) {
	q := url.Values{}
	q.Set("$top", strconv.Itoa(limit*personalScanFactor))
	q.Set("$orderby", "receivedDateTime desc")
	q.Set("$select", "id,subject,bodyPreview,from,receivedDateTime,hasAttachments,isRead,webLink")
	raw, err := r.requester.Request(ctx, http.MethodGet, "/me/messages", accountID, q, nil)
	if err != nil {
		return nil, fmt.Errorf("email search failed: %w", err)
	}

	items, err := decodeList(raw)
	if err != nil {
		return nil, err
	}
	return filterItems(items, limit, func(item map[string]any, needle string) bool {
		return containsFold(stringField(item, "subject"), needle) ||
			containsFold(stringField(item, "bodyPreview"), needle) ||
			containsFold(stringField(item, "from", "emailAddress", "name"), needle) ||
			containsFold(stringField(item, "from", "emailAddress", "address"), needle)
	}, query), nil
}

func (r *Router) searchEventsPersonal(ctx context.Context, accountID, query string, limit int) ([]map[string]any, error) {
	q := url.Values{}
	q.Set("$top", strconv.Itoa(limit*personalScanFactor))
	q.Set("$orderby", "start/dateTime desc")
	q.Set("$select", "id,subject,bodyPreview,organizer,location,start,end,webLink")
	raw, err := r.requester.Request(ctx, http.MethodGet, "/me/events", accountID, q, nil)
	if err != nil {
		return nil, fmt.Errorf("event search failed: %w", err)
	}

	items, err := decodeList(raw)
	if err != nil {
		return nil, err
	}
	return filterItems(items, limit, func(item map[string]any, needle string) bool {
		return containsFold(stringField(item, "subject"), needle) ||
			containsFold(stringField(item, "bodyPreview"), needle) ||
			containsFold(stringField(item, "organizer", "emailAddress", "name"), needle) ||
			containsFold(stringField(item, "organizer", "emailAddress", "address"), needle) ||
			containsFold(stringField(item, "location", "displayName"), needle)
	}, query), nil
}

func (r *Router) searchFilesPersonal(ctx context.Context, accountID, query string, limit int) ([]map[string]any, error) {
	q := url.Values{}
	q.Set("$top", strconv.Itoa(limit))
	path := fmt.Sprintf("/me/drive/root/search(q='%s')", escapeODataString(query))
	raw, err := r.requester.Request(ctx, http.MethodGet, path, accountID, q, nil)
	if err != nil {
		return nil, fmt.Errorf("file search failed: %w", err)
	}
	return decodeList(raw)
}

func (r *Router) unifiedPersonal(ctx context.Context, accountID, query string, entityTypes []string, limit int) (map[string][]map[string]any, error) {
	results := make(map[string][]map[string]any, len(entityTypes))
	for _, et := range entityTypes {
		var (
			items []map[string]any
			err   error
		)
		switch et {
		case "message":
			items, err = r.searchEmailsPersonal(ctx, accountID, query, limit)
		case "event":
			items, err = r.searchEventsPersonal(ctx, accountID, query, limit)
		case "driveItem":
			items, err = r.searchFilesPersonal(ctx, accountID, query, limit)
		}
		if err != nil {
			// Partial results beat none: keep going, log the kind that failed.
			r.logger.Warn().Err(err).Str("entity_type", et).Msg("unified search kind failed")
			continue
		}
		results[et] = items
	}
	return results, nil
}

// Work/school dialect (also used for unknown account classes)

type unifiedRequest struct {
	EntityTypes []string `json:"entityTypes"`
	Query       struct {
		QueryString string `json:"queryString"`
	} `json:"query"`
	From int `json:"from"`
	Size int `json:"size"`
}

func newUnifiedRequest(entityTypes []string, query string, limit int) unifiedRequest {
	req := unifiedRequest{EntityTypes: entityTypes, Size: limit}
	req.Query.QueryString = query
	return req
}

func (r *Router) searchUnifiedKind(ctx context.Context, accountID, entityType, query string, limit int) ([]map[string]any, error) {
	raw, err := r.requester.Request(ctx, http.MethodPost, "/search/query", accountID, nil,
		map[string]any{"requests": []unifiedRequest{newUnifiedRequest([]string{entityType}, query, limit)}})
	if err != nil {
		return nil, fmt.Errorf("unified search failed: %w", err)
	}

	resources, err := extractResources(raw)
	if err != nil {
		return nil, err
	}
	if len(resources) > limit {
		resources = resources[:limit]
	}
	return resources, nil
}

func (r *Router) unifiedWorkSchool(ctx context.Context, accountID, query string, entityTypes []string, limit int) (map[string][]map[string]any, error) {
	requests := make([]unifiedRequest, 0, len(entityTypes))
	for _, et := range entityTypes {
		requests = append(requests, newUnifiedRequest([]string{et}, query, limit))
	}

	raw, err := r.requester.Request(ctx, http.MethodPost, "/search/query", accountID, nil,
		map[string]any{"requests": requests})
	if err != nil {
		return nil, fmt.Errorf("unified search failed: %w", err)
	}

	resources, err := extractResources(raw)
	if err != nil {
		return nil, err
	}

	results := make(map[string][]map[string]any, len(entityTypes))
	for _, et := range entityTypes {
		results[et] = []map[string]any{}
	}
	for _, resource := range resources {
		et := classifyResource(resource)
		if _, wanted := results[et]; !wanted {
			continue
		}
		if len(results[et]) < limit {
			results[et] = append(results[et], resource)
		}
	}
	return results, nil
}

// Helpers

// validate enforces the query length bounds and clamps limit into [1, 500].
func validate(query string, limit int) (int, error) {
	if len(query) < 1 || len(query) > maxQueryLength {
		return 0, ErrInvalidQuery
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}

// escapeODataString doubles single quotes for OData string literals.
func escapeODataString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

type listResponse struct {
	Value []map[string]any `json:"value"`
}

func decodeList(raw json.RawMessage) ([]map[string]any, error) {
	var resp listResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return resp.Value, nil
}

// extractResources flattens the unified search response down the
// value[].hitsContainers[].hits[].resource path.
func extractResources(raw json.RawMessage) ([]map[string]any, error) {
	var resp struct {
		Value []struct {
			HitsContainers []struct {
				Hits []struct {
					Resource map[string]any `json:"resource"`
				} `json:"hits"`
			} `json:"hitsContainers"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode unified search response: %w", err)
	}

	var resources []map[string]any
	for _, v := range resp.Value {
		for _, hc := range v.HitsContainers {
			for _, hit := range hc.Hits {
				if hit.Resource != nil {
					resources = append(resources, hit.Resource)
				}
			}
		}
	}
	return resources, nil
}

// classifyResource maps an @odata.type annotation to an entity type.
func classifyResource(resource map[string]any) string {
	odataType, _ := resource["@odata.type"].(string)
	switch {
	case strings.HasSuffix(odataType, "message"):
		return "message"
	case strings.HasSuffix(odataType, "event"):
		return "event"
	case strings.HasSuffix(odataType, "driveItem"):
		return "driveItem"
	default:
		return ""
	}
}

func filterItems(items []map[string]any, limit int, match func(map[string]any, string) bool, query string) []map[string]any {
	needle := strings.ToLower(query)
	var out []map[string]any
	for _, item := range items {
		if match(item, needle) {
			out = append(out, item)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

// stringField walks nested maps and returns the string at the path, or "".
func stringField(item map[string]any, path ...string) string {
	current := any(item)
	for _, seg := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current = m[seg]
	}
	s, _ := current.(string)
	return s
}

func containsFold(s, lowerNeedle string) bool {
	return s != "" && strings.Contains(strings.ToLower(s), lowerNeedle)
}
