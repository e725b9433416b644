package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m365mcp/m365-cache/pkg/log"
	"github.com/m365mcp/m365-cache/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

// recordedRequest captures one call through the fake requester.
type recordedRequest struct {
	method string
	path   string
	query  url.Values
	body   any
}

// fakeRequester returns canned responses keyed by path prefix.
type fakeRequester struct {
	requests  []recordedRequest
	responses map[string]json.RawMessage
	err       error
}

func (f *fakeRequester) Request(ctx context.Context, method, path, accountID string, query url.Values, body any) (json.RawMessage, error) {
	f.requests = append(f.requests, recordedRequest{method: method, path: path, query: query, body: body})
	if f.err != nil {
		return nil, f.err
	}
	for prefix, resp := range f.responses {
		if strings.HasPrefix(path, prefix) {
			return resp, nil
		}
	}
	return json.RawMessage(`{"value":[]}`), nil
}

func listResponseJSON(t *testing.T, items ...map[string]any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"value": items})
	require.NoError(t, err)
	return raw
}

func unifiedResponseJSON(t *testing.T, resources ...map[string]any) json.RawMessage {
	t.Helper()
	hits := make([]map[string]any, 0, len(resources))
	for _, r := range resources {
		hits = append(hits, map[string]any{"resource": r})
	}
	raw, err := json.Marshal(map[string]any{
		"value": []map[string]any{
			{"hitsContainers": []map[string]any{{"hits": hits}}},
		},
	})
	require.NoError(t, err)
	return raw
}

func newTestRouter(f *fakeRequester) *Router {
	return &Router{requester: f, logger: log.WithComponent("search")}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		limit     int
		wantLimit int
		wantErr   bool
	}{
		{name: "defaults applied", query: "report", limit: 0, wantLimit: 50},
		{name: "limit respected", query: "report", limit: 10, wantLimit: 10},
		{name: "limit clamped high", query: "report", limit: 9999, wantLimit: 500},
		{name: "negative limit uses default", query: "report", limit: -3, wantLimit: 50},
		{name: "empty query", query: "", wantErr: true},
		{name: "oversized query", query: strings.Repeat("q", 513), wantErr: true},
		{name: "max-length query", query: strings.Repeat("q", 512), limit: 1, wantLimit: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, err := validate(tt.query, tt.limit)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidQuery)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, limit)
		})
	}
}

func TestSearchEmailsPersonalFiltersClientSide(t *testing.T) {
	f := &fakeRequester{responses: map[string]json.RawMessage{
		"/me/messages": listResponseJSON(t,
			map[string]any{"subject": "Quarterly Report", "bodyPreview": "numbers"},
			map[string]any{"subject": "lunch?", "bodyPreview": "pizza"},
			map[string]any{"subject": "fwd", "from": map[string]any{"emailAddress": map[string]any{"name": "Report Bot"}}},
		),
	}}
	r := newTestRouter(f)

	items, err := r.SearchEmails(context.Background(), "a@example.com", types.AccountClassPersonal, "report", 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Quarterly Report", items[0]["subject"])
	assert.Equal(t, "fwd", items[1]["subject"])

	// Personal accounts scan a multiple of the limit, newest first.
	require.Len(t, f.requests, 1)
	req := f.requests[0]
	assert.Equal(t, http.MethodGet, req.method)
	assert.Equal(t, "/me/messages", req.path)
	assert.Equal(t, "50", req.query.Get("$top"))
	assert.Equal(t, "receivedDateTime desc", req.query.Get("$orderby"))
}

func TestSearchEmailsPersonalHonorsLimit(t *testing.T) {
	items := make([]map[string]any, 10)
	for i := range items {
		items[i] = map[string]any{"subject": fmt.Sprintf("report %d", i)}
	}
	f := &fakeRequester{responses: map[string]json.RawMessage{
		"/me/messages": listResponseJSON(t, items...),
	}}
	r := newTestRouter(f)

	got, err := r.SearchEmails(context.Background(), "a@example.com", types.AccountClassPersonal, "report", 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestSearchEmailsUnified(t *testing.T) {
	f := &fakeRequester{responses: map[string]json.RawMessage{
		"/search/query": unifiedResponseJSON(t,
			map[string]any{"@odata.type": "#microsoft.graph.message", "subject": "report"},
		),
	}}
	r := newTestRouter(f)

	items, err := r.SearchEmails(context.Background(), "a@corp.example.com", types.AccountClassWorkSchool, "report", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "report", items[0]["subject"])

	require.Len(t, f.requests, 1)
	req := f.requests[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/search/query", req.path)

	body, ok := req.body.(map[string]any)
	require.True(t, ok)
	requests, ok := body["requests"].([]unifiedRequest)
	require.True(t, ok)
	require.Len(t, requests, 1)
	assert.Equal(t, []string{"message"}, requests[0].EntityTypes)
	assert.Equal(t, "report", requests[0].Query.QueryString)
	assert.Equal(t, 10, requests[0].Size)
}

func TestUnknownClassUsesUnifiedDialect(t *testing.T) {
	f := &fakeRequester{responses: map[string]json.RawMessage{
		"/search/query": unifiedResponseJSON(t),
	}}
	r := newTestRouter(f)

	_, err := r.SearchEmails(context.Background(), "a@example.com", types.AccountClassUnknown, "report", 10)
	require.NoError(t, err)
	require.Len(t, f.requests, 1)
	assert.Equal(t, "/search/query", f.requests[0].path)
}

func TestSearchEventsPersonal(t *testing.T) {
	f := &fakeRequester{responses: map[string]json.RawMessage{
		"/me/events": listResponseJSON(t,
			map[string]any{"subject": "standup", "location": map[string]any{"displayName": "Room 4"}},
			map[string]any{"subject": "planning", "location": map[string]any{"displayName": "Boardroom"}},
		),
	}}
	r := newTestRouter(f)

	items, err := r.SearchEvents(context.Background(), "a@example.com", types.AccountClassPersonal, "boardroom", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "planning", items[0]["subject"])
	assert.Equal(t, "start/dateTime desc", f.requests[0].query.Get("$orderby"))
}

func TestSearchFilesPersonalUsesDriveSearch(t *testing.T) {
	f := &fakeRequester{responses: map[string]json.RawMessage{
		"/me/drive/root/search": listResponseJSON(t, map[string]any{"name": "budget.xlsx"}),
	}}
	r := newTestRouter(f)

	items, err := r.SearchFiles(context.Background(), "a@example.com", types.AccountClassPersonal, "budget", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "/me/drive/root/search(q='budget')", f.requests[0].path)
}

func TestSearchContactsAlwaysUsesPrefixFilter(t *testing.T) {
	for _, class := range []types.AccountClass{types.AccountClassPersonal, types.AccountClassWorkSchool, types.AccountClassUnknown} {
		t.Run(string(class), func(t *testing.T) {
			f := &fakeRequester{responses: map[string]json.RawMessage{
				"/me/contacts": listResponseJSON(t, map[string]any{"displayName": "Alice"}),
			}}
			r := newTestRouter(f)

			items, err := r.SearchContacts(context.Background(), "a@example.com", class, "Ali", 10)
			require.NoError(t, err)
			assert.Len(t, items, 1)

			req := f.requests[0]
			assert.Equal(t, "/me/contacts", req.path)
			assert.Equal(t, "startswith(displayName,'Ali')", req.query.Get("$filter"))
			assert.Equal(t, "10", req.query.Get("$top"))
		})
	}
}

func TestSearchContactsEscapesQuotes(t *testing.T) {
	f := &fakeRequester{}
	r := newTestRouter(f)

	_, err := r.SearchContacts(context.Background(), "a@example.com", types.AccountClassPersonal, "O'Brien", 10)
	require.NoError(t, err)
	assert.Equal(t, "startswith(displayName,'O''Brien')", f.requests[0].query.Get("$filter"))
}

func TestUnifiedSearchValidatesEntityTypes(t *testing.T) {
	r := newTestRouter(&fakeRequester{})

	_, err := r.UnifiedSearch(context.Background(), "a@example.com", types.AccountClassWorkSchool, "report", nil, 10)
	assert.ErrorIs(t, err, ErrInvalidEntityTypes)

	_, err = r.UnifiedSearch(context.Background(), "a@example.com", types.AccountClassWorkSchool, "report", []string{"message", "contact"}, 10)
	assert.ErrorIs(t, err, ErrInvalidEntityTypes)
}

func TestUnifiedSearchWorkSchoolClassifiesResults(t *testing.T) {
	f := &fakeRequester{responses: map[string]json.RawMessage{
		"/search/query": unifiedResponseJSON(t,
			map[string]any{"@odata.type": "#microsoft.graph.message", "subject": "report v2"},
			map[string]any{"@odata.type": "#microsoft.graph.driveItem", "name": "report.docx"},
			map[string]any{"@odata.type": "#microsoft.graph.message", "subject": "re: report"},
			map[string]any{"@odata.type": "#microsoft.graph.site", "name": "ignored kind"},
		),
	}}
	r := newTestRouter(f)

	results, err := r.UnifiedSearch(context.Background(), "a@corp.example.com", types.AccountClassWorkSchool,
		"report", []string{"message", "driveItem"}, 10)
	require.NoError(t, err)
	assert.Len(t, results["message"], 2)
	assert.Len(t, results["driveItem"], 1)
	_, hasEvents := results["event"]
	assert.False(t, hasEvents, "unrequested kinds are absent")
}

func TestUnifiedSearchPersonalFansOut(t *testing.T) {
	f := &fakeRequester{responses: map[string]json.RawMessage{
		"/me/messages":          listResponseJSON(t, map[string]any{"subject": "budget review"}),
		"/me/drive/root/search": listResponseJSON(t, map[string]any{"name": "budget.xlsx"}),
	}}
	r := newTestRouter(f)

	results, err := r.UnifiedSearch(context.Background(), "a@example.com", types.AccountClassPersonal,
		"budget", []string{"message", "driveItem"}, 10)
	require.NoError(t, err)
	assert.Len(t, results["message"], 1)
	assert.Len(t, results["driveItem"], 1)

	paths := []string{f.requests[0].path, f.requests[1].path}
	assert.Contains(t, paths[0], "/me/messages")
	assert.Contains(t, paths[1], "/me/drive/root/search")
}

func TestSearchEmailsRemoteFailure(t *testing.T) {
	f := &fakeRequester{err: fmt.Errorf("connection refused")}
	r := newTestRouter(f)

	_, err := r.SearchEmails(context.Background(), "a@example.com", types.AccountClassPersonal, "report", 10)
	assert.Error(t, err)
}

func TestClassifyResource(t *testing.T) {
	tests := []struct {
		odataType string
		want      string
	}{
		{"#microsoft.graph.message", "message"},
		{"#microsoft.graph.event", "event"},
		{"#microsoft.graph.driveItem", "driveItem"},
		{"#microsoft.graph.site", ""},
		{"", ""},
	}

	for _, tt := range tests {
		got := classifyResource(map[string]any{"@odata.type": tt.odataType})
		assert.Equal(t, tt.want, got, tt.odataType)
	}
}
