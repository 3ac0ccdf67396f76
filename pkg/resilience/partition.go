package resilience

import (
	"crypto/sha256"
	"fmt"
	"math/big"
)

// Partitioner maps tenant ids onto a fixed number of partitions with a
// stable hash. Same tenant, same partition, on every node.
type Partitioner struct {
	numPartitions int
	modulus       *big.Int
}

// NewPartitioner creates a partitioner with numPartitions >= 1 buckets.
func NewPartitioner(numPartitions int) (*Partitioner, error) {
	if numPartitions < 1 {
		return nil, fmt.Errorf("num_partitions must be >= 1, got %d", numPartitions)
	}
	return &Partitioner{
		numPartitions: numPartitions,
		modulus:       big.NewInt(int64(numPartitions)),
	}, nil
}

// Partition returns sha256(tenantID) mod numPartitions. The full digest is
// reduced so the mapping matches other implementations bit for bit.
func (p *Partitioner) Partition(tenantID string) int {
	digest := sha256.Sum256([]byte(tenantID))
	n := new(big.Int).SetBytes(digest[:])
	return int(n.Mod(n, p.modulus).Int64())
}

// NumPartitions returns the partition count.
func (p *Partitioner) NumPartitions() int { return p.numPartitions }
