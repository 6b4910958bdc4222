package pds

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lg_pds_cache_lookups_total",
	Help: "PDS patient lookups by cache result.",
}, []string{"result"})

// Fetcher is anything that can look a patient up.
type Fetcher interface {
	FetchPatientDetails(ctx context.Context, nhsNumber string) (*PatientDetails, error)
}

// CachedRegistry keeps recent successful lookups so a patient whose message
// is requeued while waiting for a virus scan does not hit PDS again. Errors
// are never cached.
type CachedRegistry struct {
	next  Fetcher
	cache *expirable.LRU[string, *PatientDetails]
}

// NewCachedRegistry wraps next with an LRU of maxSize entries expiring after
// ttl.
func NewCachedRegistry(next Fetcher, maxSize int, ttl time.Duration) *CachedRegistry {
	return &CachedRegistry{
		next:  next,
		cache: expirable.NewLRU[string, *PatientDetails](maxSize, nil, ttl),
	}
}

// FetchPatientDetails serves from cache when it can.
func (c *CachedRegistry) FetchPatientDetails(ctx context.Context, nhsNumber string) (*PatientDetails, error) {
	if details, ok := c.cache.Get(nhsNumber); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		return details, nil
	}
	cacheLookups.WithLabelValues("miss").Inc()
	details, err := c.next.FetchPatientDetails(ctx, nhsNumber)
	if err != nil {
		return nil, err
	}
	c.cache.Add(nhsNumber, details)
	return details, nil
}
