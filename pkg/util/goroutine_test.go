package util

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithRecover(t *testing.T) {
	var got interface{}
	WithRecover(func() {
		panic("boom")
	}, nil, func(p interface{}) {
		got = p
	})
	assert.Equal(t, "boom", got)

	ran := false
	WithRecover(func() { ran = true })
	assert.True(t, ran)
}

func TestGoWithSyncGroup(t *testing.T) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	n := 0
	for i := 0; i < 4; i++ {
		GoWithSyncGroup(func() {
			mu.Lock()
			n++
			mu.Unlock()
		}, &wg)
	}
	wg.Wait()
	assert.Equal(t, 4, n)
}
