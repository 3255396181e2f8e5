package loadbalancer

import (
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid"
)

// batchIDGenerator tags each applied SD batch with a sortable, unique id for
// diagnostics, the same way the flow id filters tag requests: a single
// mutex-guarded entropy source feeding ulid.New.
type batchIDGenerator struct {
	mu sync.Mutex
	r  io.Reader
}

func newBatchIDGenerator() *batchIDGenerator {
	return &batchIDGenerator{r: rand.New(rand.NewSource(time.Now().UTC().UnixNano()))}
}

func (g *batchIDGenerator) next() string {
	g.mu.Lock()
	id, err := ulid.New(ulid.Now(), g.r)
	g.mu.Unlock()
	if err != nil {
		return ""
	}
	return id.String()
}
