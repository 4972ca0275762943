package naming

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var idPattern = regexp.MustCompile(`^\d{8}_\d{6}_\d{4}[0-9a-f]{4}$`)

func TestGenerateFormat(t *testing.T) {
	fixed := time.Date(2024, 5, 17, 9, 3, 7, 0, time.UTC)
	n := NewNamerWithClock(func() time.Time { return fixed })

	id := n.Generate()
	assert.Regexp(t, idPattern, id)
	assert.True(t, len(id) > len(TimestampLayout))
	assert.Equal(t, "20240517_090307", id[:len(TimestampLayout)])
}

func TestGenerateUniqueWithinSameSecond(t *testing.T) {
	fixed := time.Date(2024, 5, 17, 9, 3, 7, 0, time.UTC)
	n := NewNamerWithClock(func() time.Time { return fixed })

	const workers, perWorker = 8, 250
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := n.Generate()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker)
}

func TestShortID(t *testing.T) {
	assert.Len(t, ShortID(6), 6)
	assert.Len(t, ShortID(0), 32)
	assert.NotEqual(t, ShortID(12), ShortID(12))
}
