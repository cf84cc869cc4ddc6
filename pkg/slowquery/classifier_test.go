package slowquery

import (
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	findLine      = `2023-07-22T10:00:00.000+0000 I COMMAND  [conn12] command shop.orders command: find { find: "orders", filter: {status: "pending"}, limit: 10 } planSummary: COLLSCAN 150ms`
	fsyncLine     = `2023-07-22T10:00:00.000+0000 I COMMAND  [conn3] command admin.$cmd command: fsync { fsync: 1, lock: true } 210ms`
	aggregateLine = `2023-07-22T10:00:00.000+0000 I COMMAND  [conn7] command shop.events command: aggregate { aggregate: "events", pipeline: [{$match: {createdAt: new Date(1690000000000)}}], cursor: {} } 300ms`
)

func TestClassify_Find(t *testing.T) {
	c := New(DefaultCatalog())
	r := c.Classify(Input{CommandType: "query", Database: "shop", Message: findLine})
	require.NotNil(t, r)
	assert.Equal(t, OutcomeMatched, r.Outcome)
	assert.Equal(t, "query", r.CommandType)
	assert.Equal(t, "shop", r.Database)
	assert.Equal(t, "find", r.Operation)
	assert.Equal(t, "orders", r.Target)
	assert.Equal(t, `{status: "-", }`, r.NormalizedQuery)
}

func TestClassify_Ignored(t *testing.T) {
	c := New(DefaultCatalog())
	// ignore rules win over eligibility
	for _, in := range []Input{
		{CommandType: "command", Database: "admin", Message: fsyncLine},
		{CommandType: "command", Database: "shop", Message: fsyncLine},
		{Message: fsyncLine},
		{CommandType: "command", Database: "shop", Message: `command: applyOps { applyOps: [ { op: "i" } ] } 120ms`},
		{CommandType: "command", Database: "shop", Message: `command: fsyncUnlock { fsyncUnlock: 1 } 120ms`},
	} {
		r := c.Classify(in)
		assert.Nil(t, r, in.Message)
		assert.Equal(t, OutcomeIgnored, OutcomeOf(r))
	}
}

func TestClassify_AggregateDate(t *testing.T) {
	c := New(DefaultCatalog())
	r := c.Classify(Input{CommandType: "command", Database: "shop", Message: aggregateLine})
	require.NotNil(t, r)
	assert.Equal(t, "aggregate", r.Operation)
	assert.Equal(t, "events", r.Target)
	assert.Contains(t, r.NormalizedQuery, PlaceholderDate)
	assert.NotContains(t, r.NormalizedQuery, "1690000000000")
	assert.Equal(t, `{$match: {createdAt: "Date"}}`, r.NormalizedQuery)
}

func TestClassify_Ineligible(t *testing.T) {
	c := New(DefaultCatalog())
	for _, in := range []Input{
		{CommandType: "", Database: "shop", Message: findLine},
		{CommandType: "remove", Database: "shop", Message: findLine},
		{CommandType: "query", Database: "admin", Message: findLine},
		{CommandType: "query", Database: "local", Message: findLine},
	} {
		r := c.Classify(in)
		require.NotNil(t, r)
		assert.Equal(t, OutcomeIneligible, r.Outcome)
		assert.Equal(t, in.CommandType, r.CommandType)
		assert.Equal(t, in.Database, r.Database)
		assert.Empty(t, r.Operation)
		assert.Empty(t, r.Target)
		assert.Empty(t, r.NormalizedQuery)
	}
}

func TestClassify_Unclassified(t *testing.T) {
	c := New(DefaultCatalog())
	r := c.Classify(Input{CommandType: "command", Database: "shop", Message: `command shop.$cmd command: ping { ping: 1 } 101ms`})
	require.NotNil(t, r)
	assert.Equal(t, OutcomeUnclassified, r.Outcome)
	assert.Empty(t, r.Operation)
	assert.Empty(t, r.Target)
	assert.Empty(t, r.NormalizedQuery)
}

func TestClassify_FirstMatchWins(t *testing.T) {
	cat := NewCatalog([]Rule{
		{Name: "first", Detect: regexp.MustCompile(`\sfind:\s`), TargetLabel: "find: "},
		{Name: "second", Detect: regexp.MustCompile(`\sfind:\s".*",`), TargetLabel: "find: ", QueryLabel: "filter: "},
	}, nil, DefaultValueRules())
	r := New(cat).Classify(Input{CommandType: "query", Database: "shop", Message: findLine})
	require.NotNil(t, r)
	assert.Equal(t, "first", r.Operation)
	assert.Equal(t, "orders", r.Target)
	assert.Empty(t, r.NormalizedQuery)

	// update is listed before find in the built-in catalog
	msg := `command shop.orders command: update { update: "orders", find: "x", updates: [ { q: { n: 1 } } ] } 120ms`
	r = New(DefaultCatalog()).Classify(Input{CommandType: "command", Database: "shop", Message: msg})
	require.NotNil(t, r)
	assert.Equal(t, "update", r.Operation)
	assert.Equal(t, "orders", r.Target)
	assert.Equal(t, `{ n: 0 }`, r.NormalizedQuery)
}

func TestClassify_Extractions(t *testing.T) {
	c := New(DefaultCatalog())
	cases := []struct {
		name      string
		msg       string
		operation string
		target    string
		query     string
	}{
		{
			name:      "getMore",
			msg:       `command shop.orders command: getMore { getMore: 4523345, collection: "orders" } originatingCommand: {} 130ms`,
			operation: "getMore",
			target:    "orders",
		},
		{
			name:      "count",
			msg:       `command shop.orders command: count { count: "orders", query: { status: "x" } } 130ms`,
			operation: "count",
			target:    "orders",
			query:     `{ status: "-",  }`,
		},
		{
			name:      "find with sort",
			msg:       `command shop.orders command: find { find: "orders", filter: { qty: 5 }, sort: { ts: -1 } } 130ms`,
			operation: "find",
			target:    "orders",
			query:     `{ qty: 0 }{ ts: 0 }`,
		},
		{
			name:      "find with compact $in",
			msg:       `command shop.orders command: find { find: "orders", filter: {status: {$in: ["new", "paid"]}} } 130ms`,
			operation: "find",
			target:    "orders",
			query:     `{status: {$in: []}}`,
		},
		{
			name:      "find with broken filter",
			msg:       `command shop.orders command: find { find: "orders", filter: { qty: 5 ...`,
			operation: "find",
			target:    "orders",
		},
		{
			name:      "collStats",
			msg:       `command shop.orders command: collStats { collStats: "orders", scale: 1 } 130ms`,
			operation: "collStats",
			target:    "orders",
		},
		{
			name:      "listCollections",
			msg:       `command shop.$cmd command: listCollections { listCollections: 1, filter: {} } 130ms`,
			operation: "listCollections",
		},
		{
			name:      "findAndModify",
			msg:       `command shop.orders command: findAndModify { findAndModify: "orders", query: { _id: ObjectId('5f1d7a2b3c4d5e6f7a8b9c0d') }, update: {} } 130ms`,
			operation: "findAndModify",
			target:    "orders",
			query:     `{ _id: "ObjectId" }`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := c.Classify(Input{CommandType: "command", Database: "shop", Message: tc.msg})
			require.NotNil(t, r)
			assert.Equal(t, OutcomeMatched, r.Outcome)
			assert.Equal(t, tc.operation, r.Operation)
			assert.Equal(t, tc.target, r.Target)
			assert.Equal(t, tc.query, r.NormalizedQuery)
		})
	}
}

type fixedExtractor struct{}

func (fixedExtractor) ExtractObject(string) (string, bool) {
	return `{ k: 1 }`, true
}

func TestClassify_WithObjectExtractor(t *testing.T) {
	c := New(nil, WithObjectExtractor(fixedExtractor{}))
	r := c.Classify(Input{CommandType: "query", Database: "shop", Message: findLine})
	require.NotNil(t, r)
	// findLine has no sort label, so the extractor runs once
	assert.Equal(t, `{ k: 0 }`, r.NormalizedQuery)
}

func TestClassify_Concurrent(t *testing.T) {
	c := New(DefaultCatalog())
	want := c.Classify(Input{CommandType: "command", Database: "shop", Message: aggregateLine})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got := c.Classify(Input{CommandType: "command", Database: "shop", Message: aggregateLine})
				assert.Equal(t, want, got)
			}
		}()
	}
	wg.Wait()
}
