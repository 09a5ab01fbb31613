package storage

import "sort"

// L1Segment is the packed, cache-friendly counterpart to L0Run (S2):
// per-rel-type CSR-like arrays, sorted ascending by (src, dst) for
// outgoing adjacency and by (dst, src) for incoming adjacency, so lookups
// can binary-search instead of hashing. Producing one from a batch of
// L0Runs is a compaction pass; compaction itself runs outside the core,
// but the read path (Snapshot) must already know
// how to consult whatever segments exist, so that contract lives here.
//
// A segment is immutable once built, exactly like L0Run.
type L1Segment struct {
	outByRel map[RelTypeID][]EdgeKey // sorted by (src, dst)
	inByRel  map[RelTypeID][]EdgeKey // sorted by (dst, src)
	outAll   []EdgeKey               // sorted by (src, rel, dst), all rel types
	inAll    []EdgeKey               // sorted by (dst, rel, src), all rel types
}

// BuildL1Segment packs a slice of edges (duplicates collapsed) into one
// immutable, sorted segment. No tombstones are applied here, so the
// caller passes only surviving edges.
func BuildL1Segment(edges []EdgeKey) *L1Segment {
	seg := &L1Segment{
		outByRel: make(map[RelTypeID][]EdgeKey),
		inByRel:  make(map[RelTypeID][]EdgeKey),
	}

	seen := make(map[EdgeKey]struct{}, len(edges))
	for _, e := range edges {
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		seg.outByRel[e.Rel] = append(seg.outByRel[e.Rel], e)
		seg.inByRel[e.Rel] = append(seg.inByRel[e.Rel], e)
		seg.outAll = append(seg.outAll, e)
		seg.inAll = append(seg.inAll, e)
	}

	for rel := range seg.outByRel {
		bucket := seg.outByRel[rel]
		sort.Slice(bucket, func(i, j int) bool {
			if bucket[i].Src != bucket[j].Src {
				return bucket[i].Src < bucket[j].Src
			}
			return bucket[i].Dst < bucket[j].Dst
		})
		seg.outByRel[rel] = bucket
	}
	for rel := range seg.inByRel {
		bucket := seg.inByRel[rel]
		sort.Slice(bucket, func(i, j int) bool {
			if bucket[i].Dst != bucket[j].Dst {
				return bucket[i].Dst < bucket[j].Dst
			}
			return bucket[i].Src < bucket[j].Src
		})
		seg.inByRel[rel] = bucket
	}
	sort.Slice(seg.outAll, func(i, j int) bool {
		a, b := seg.outAll[i], seg.outAll[j]
		if a.Src != b.Src {
			return a.Src < b.Src
		}
		if a.Rel != b.Rel {
			return a.Rel < b.Rel
		}
		return a.Dst < b.Dst
	})
	sort.Slice(seg.inAll, func(i, j int) bool {
		a, b := seg.inAll[i], seg.inAll[j]
		if a.Dst != b.Dst {
			return a.Dst < b.Dst
		}
		if a.Rel != b.Rel {
			return a.Rel < b.Rel
		}
		return a.Src < b.Src
	})

	return seg
}

// Neighbors returns the edges in this segment whose source is src,
// optionally filtered to one relationship type, via binary search.
func (s *L1Segment) Neighbors(src InternalNodeID, rel *RelTypeID) []EdgeKey {
	if rel != nil {
		bucket := s.outByRel[*rel]
		lo := sort.Search(len(bucket), func(i int) bool { return bucket[i].Src >= src })
		hi := sort.Search(len(bucket), func(i int) bool { return bucket[i].Src > src })
		return bucket[lo:hi]
	}
	lo := sort.Search(len(s.outAll), func(i int) bool { return s.outAll[i].Src >= src })
	hi := sort.Search(len(s.outAll), func(i int) bool { return s.outAll[i].Src > src })
	return s.outAll[lo:hi]
}

// IncomingNeighbors mirrors Neighbors for incoming adjacency.
func (s *L1Segment) IncomingNeighbors(dst InternalNodeID, rel *RelTypeID) []EdgeKey {
	if rel != nil {
		bucket := s.inByRel[*rel]
		lo := sort.Search(len(bucket), func(i int) bool { return bucket[i].Dst >= dst })
		hi := sort.Search(len(bucket), func(i int) bool { return bucket[i].Dst > dst })
		return bucket[lo:hi]
	}
	lo := sort.Search(len(s.inAll), func(i int) bool { return s.inAll[i].Dst >= dst })
	hi := sort.Search(len(s.inAll), func(i int) bool { return s.inAll[i].Dst > dst })
	return s.inAll[lo:hi]
}
