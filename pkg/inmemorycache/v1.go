package inmemorycache

import (
	"time"

	"github.com/coocood/freecache"

	"github.com/ufra-ai/ufra-core/pkg/metrics"
)

const (
	metricUpdateInterval = 1 * time.Minute
	infiniteExpiry       = -1
)

type V1 struct {
	cacheName  string
	inMemCache *freecache.Cache
	stop       chan struct{}
}

func NewV1(cacheName string, sizeInBytes int) *V1 {
	v1 := &V1{
		cacheName:  cacheName,
		inMemCache: freecache.NewCache(sizeInBytes),
		stop:       make(chan struct{}),
	}
	go v1.publishMetric()
	return v1
}

func (imc *V1) Get(key []byte) ([]byte, error) {
	return imc.inMemCache.Get(key)
}

func (imc *V1) Set(key, value []byte) error {
	return imc.inMemCache.Set(key, value, infiniteExpiry)
}

func (imc *V1) SetEx(key, value []byte, expiryInSec int) error {
	return imc.inMemCache.Set(key, value, expiryInSec)
}

func (imc *V1) Delete(key []byte) bool {
	return imc.inMemCache.Del(key)
}

func (imc *V1) Close() {
	close(imc.stop)
}

// publishMetric publishes the in-memory-cache metrics every 1 min, configured by metricUpdateInterval
func (imc *V1) publishMetric() {
	ticker := time.NewTicker(metricUpdateInterval)
	cacheMetricTags := []string{"cache_name", imc.cacheName}
	defer ticker.Stop()
	for {
		select {
		case <-imc.stop:
			return
		case <-ticker.C:
			metrics.Gauge(HitRate, imc.inMemCache.HitRate(), cacheMetricTags)
			metrics.Gauge(ItemCount, float64(imc.inMemCache.EntryCount()), cacheMetricTags)
			metrics.Gauge(EvacuateCount, float64(imc.inMemCache.EvacuateCount()), cacheMetricTags)
			metrics.Gauge(ExpiryCount, float64(imc.inMemCache.ExpiredCount()), cacheMetricTags)
		}
	}
}
