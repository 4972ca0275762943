package naming

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the second-granularity prefix of every generated id.
const TimestampLayout = "20060102_150405"

// Namer generates project identifiers of the form
// YYYYMMDD_HHMMSS_<seq><rand>. The timestamp alone collides within a second,
// so a process-wide sequence plus a random suffix follows it.
type Namer struct {
	now func() time.Time
	seq atomic.Uint64
}

func NewNamer() *Namer {
	return &Namer{now: time.Now}
}

// NewNamerWithClock is used by tests to pin the timestamp.
func NewNamerWithClock(now func() time.Time) *Namer {
	return &Namer{now: now}
}

func (n *Namer) Generate() string {
	seq := n.seq.Add(1)
	return fmt.Sprintf("%s_%04d%s", n.now().UTC().Format(TimestampLayout), seq%10000, ShortID(4))
}

// ShortID returns n lowercase hex characters of a random UUID (max 32).
func ShortID(n int) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n <= 0 || n > len(id) {
		return id
	}
	return id[:n]
}
