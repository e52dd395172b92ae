package inmemorycache

// InMemoryCache is a byte-oriented cache for raw model weight blobs, so a
// variant evicted from the decoded cache can be rebuilt without touching disk.
type InMemoryCache interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	SetEx(key, value []byte, expiryInSec int) error
	Delete(key []byte) bool
}

// Metric names published by cache implementations.
const (
	HitRate       = "ufra.inmemorycache.hit.rate"
	ItemCount     = "ufra.inmemorycache.item.count"
	EvacuateCount = "ufra.inmemorycache.evacuate.count"
	ExpiryCount   = "ufra.inmemorycache.expiry.count"
)
