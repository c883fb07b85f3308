package consolidation

import "github.com/limiquantix/consolidator/internal/domain"

// Partitioner splits an ordered host pool into contiguous id ranges. Migrations
// never leave the source host's group.
type Partitioner struct {
	groupSize int
}

// NewPartitioner partitions totalHosts hosts into groupNum groups. A
// non-positive groupNum or an empty pool yields one group spanning every host;
// more groups than hosts puts each host in its own group.
func NewPartitioner(totalHosts, groupNum int) Partitioner {
	if groupNum <= 0 || totalHosts <= 0 {
		return Partitioner{}
	}
	size := totalHosts / groupNum
	if size < 1 {
		size = 1
	}
	return Partitioner{groupSize: size}
}

// Group returns the group id for a host id.
func (p Partitioner) Group(hostID int) int {
	if p.groupSize == 0 {
		return 0
	}
	return hostID / p.groupSize
}

// SameGroup reports whether a and b share a group.
func (p Partitioner) SameGroup(a, b *domain.Host) bool {
	return p.Group(a.ID) == p.Group(b.ID)
}
