package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPatternStat_Add(t *testing.T) {
	t0 := time.Date(2023, 7, 22, 10, 0, 0, 0, time.UTC)
	p := &PatternStat{Key: "k"}
	p.Add("a", 100, t0.Add(time.Minute))
	p.Add("b", 300, t0)
	p.Add("c", 200, t0.Add(2*time.Minute))

	assert.Equal(t, int64(3), p.Count)
	assert.Equal(t, int64(300), p.MaxExecMillis)
	assert.Equal(t, int64(600), p.TotalExecMillis)
	assert.Equal(t, int64(200), p.AvgExecMillis())
	assert.Equal(t, "b", p.Sample)
	assert.Equal(t, t0, p.FirstSeen)
	assert.Equal(t, t0.Add(2*time.Minute), p.LastSeen)

	assert.Equal(t, int64(0), (&PatternStat{}).AvgExecMillis())
}

func TestSortPatterns(t *testing.T) {
	ps := []*PatternStat{
		{Key: "b", MaxExecMillis: 10},
		{Key: "c", MaxExecMillis: 30},
		{Key: "a", MaxExecMillis: 10},
	}
	SortPatterns(ps)
	assert.Equal(t, "c", ps[0].Key)
	assert.Equal(t, "a", ps[1].Key)
	assert.Equal(t, "b", ps[2].Key)
}
