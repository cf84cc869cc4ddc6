package confluence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traas-stack/slowquery-agent/pkg/appconfig"
	"github.com/traas-stack/slowquery-agent/pkg/model"
)

type fakeConfluence struct {
	mu       sync.Mutex
	pages    map[string]string
	searches int
	creates  []createRequest
	user     string
}

func (f *fakeConfluence) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.URL.Path != "/rest/api/content" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	f.user, _, _ = r.BasicAuth()
	switch r.Method {
	case http.MethodGet:
		f.searches++
		title := r.URL.Query().Get("title")
		resp := map[string]interface{}{"results": []interface{}{}}
		if id, ok := f.pages[title]; ok {
			resp["results"] = []interface{}{map[string]string{"id": id, "title": title}}
		}
		json.NewEncoder(w).Encode(resp)
	case http.MethodPost:
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.creates = append(f.creates, req)
		id := "id-" + req.Title
		f.pages[req.Title] = id
		json.NewEncoder(w).Encode(map[string]string{"id": id})
	}
}

func (f *fakeConfluence) snapshot() (int, []createRequest, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searches, append([]createRequest(nil), f.creates...), f.user
}

func newTestOutput(t *testing.T, fake *fakeConfluence) *ConfluenceOutput {
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	o, err := NewConfluenceOutput(appconfig.ConfluenceConfig{
		BaseUrl:     srv.URL + "/",
		Username:    "bot",
		Token:       "secret",
		SpaceKey:    "DBA",
		AncestorId:  "42",
		TitlePrefix: "SlowQuery ",
	})
	require.NoError(t, err)
	return o
}

func TestConfluenceOutput_Write(t *testing.T) {
	fake := &fakeConfluence{pages: map[string]string{"SlowQuery existing": "7"}}
	o := newTestOutput(t, fake)

	report := &model.Report{
		Area: "eu-west",
		Patterns: []*model.PatternStat{
			{Key: "existing", Operation: "find"},
			{
				Key:             "fresh",
				Database:        "shop",
				Operation:       "find",
				Target:          "orders",
				NormalizedQuery: `{ a: "-", b: "<x>" }`,
				Count:           3,
				MaxExecMillis:   1500,
				TotalExecMillis: 3000,
				Sample:          `find { a: "]]>" }`,
			},
		},
	}
	require.NoError(t, o.Write(context.Background(), report))

	searches, creates, user := fake.snapshot()
	require.Len(t, creates, 1)
	req := creates[0]
	assert.Equal(t, "bot", user)
	assert.Equal(t, "SlowQuery fresh", req.Title)
	assert.Equal(t, "page", req.Type)
	assert.Equal(t, "DBA", req.Space.Key)
	assert.Equal(t, []ancestor{{Id: "42"}}, req.Ancestors)
	assert.Equal(t, "storage", req.Body.Storage.Representation)
	v := req.Body.Storage.Value
	assert.Contains(t, v, "<th>Collection</th><td>orders</td>")
	assert.Contains(t, v, "1,500 ms")
	assert.Contains(t, v, `<![CDATA[{ a: "-", b: "<x>" }]]>`)
	assert.NotContains(t, v, `"]]>" }`)
	assert.Equal(t, 2, searches)

	// both pages are memoized
	require.NoError(t, o.Write(context.Background(), report))
	searches, creates, _ = fake.snapshot()
	assert.Equal(t, 2, searches)
	assert.Len(t, creates, 1)
}

func TestConfluenceOutput_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	o, err := NewConfluenceOutput(appconfig.ConfluenceConfig{BaseUrl: srv.URL, SpaceKey: "DBA"})
	require.NoError(t, err)

	err = o.Write(context.Background(), &model.Report{Patterns: []*model.PatternStat{{Key: "a"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestRenderPage_Escapes(t *testing.T) {
	v := renderPage(&model.Report{Area: "<b>"}, &model.PatternStat{Target: "a&b"})
	assert.Contains(t, v, "&lt;b&gt;")
	assert.Contains(t, v, "a&amp;b")
}

func TestNewConfluenceOutput_Validates(t *testing.T) {
	_, err := NewConfluenceOutput(appconfig.ConfluenceConfig{BaseUrl: "http://x"})
	assert.Error(t, err)
}
