// Package plancache caches query plans keyed by schema version and operation
// text, so repeated operations skip planning entirely.
package plancache

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/jensneuse/abstractlogger"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/wundergraph/federationplan/pkg/plan"
)

// Key identifies one planned operation. Two keys hash equal only when every
// input that can change the plan is equal.
type Key struct {
	SchemaVersion     string
	OperationName     string
	Operation         string
	ConfigurationHash uint64
}

func (k Key) Hash() uint64 {
	digest := xxhash.New()
	_, _ = digest.WriteString(k.SchemaVersion)
	_, _ = digest.WriteString("|")
	_, _ = digest.WriteString(k.OperationName)
	_, _ = digest.WriteString("|")
	_, _ = digest.WriteString(k.Operation)
	_, _ = digest.WriteString("|")
	_, _ = digest.WriteString(strconv.FormatUint(k.ConfigurationHash, 16))
	return digest.Sum64()
}

type Cache interface {
	Get(key Key) (*plan.QueryPlan, bool)
	Set(key Key, queryPlan *plan.QueryPlan)
}

type Stats struct {
	Hits   int64
	Misses int64
}

// LRUCache is a size-bounded Cache. Safe for concurrent use.
type LRUCache struct {
	inner  *lru.Cache
	log    abstractlogger.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func NewLRUCache(size int, log abstractlogger.Logger) (*LRUCache, error) {
	if log == nil {
		log = abstractlogger.Noop{}
	}
	inner, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "plancache: create lru")
	}
	return &LRUCache{inner: inner, log: log}, nil
}

func (c *LRUCache) Get(key Key) (*plan.QueryPlan, bool) {
	value, ok := c.inner.Get(key.Hash())
	if !ok {
		c.misses.Inc()
		c.log.Debug("plancache.LRUCache.Get: miss",
			abstractlogger.String("operationName", key.OperationName),
		)
		return nil, false
	}
	c.hits.Inc()
	return value.(*plan.QueryPlan), true
}

func (c *LRUCache) Set(key Key, queryPlan *plan.QueryPlan) {
	c.inner.Add(key.Hash(), queryPlan)
}

func (c *LRUCache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
