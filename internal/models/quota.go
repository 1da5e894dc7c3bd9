package models

// Quota is the effective limit a single admission check is evaluated against.
// It is comparable so registries can detect configuration changes cheaply.
type Quota struct {
	Algorithm     Algorithm
	MaxRequests   int
	WindowSeconds int
	BurstCapacity int
	RefillRate    float64
}

func (q Quota) Valid() bool {
	return q.Algorithm.Valid() && q.MaxRequests > 0 && q.WindowSeconds > 0
}

// Bucket size for token and leaky buckets
func (q Quota) Capacity() int {
	if q.BurstCapacity > 0 {
		return q.BurstCapacity
	}
	return q.MaxRequests
}

// Refill (token bucket) or leak (leaky bucket) rate per second
func (q Quota) Rate() float64 {
	if q.RefillRate > 0 {
		return q.RefillRate
	}
	return float64(q.MaxRequests) / float64(q.WindowSeconds)
}

// Returns the limit reported to callers
func (q Quota) Limit() int {
	if q.Algorithm.Bursting() {
		return q.Capacity()
	}
	return q.MaxRequests
}
