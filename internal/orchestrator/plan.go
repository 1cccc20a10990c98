package orchestrator

// ChunkBounds is the half-open entry range [Start, End) handled by one task.
type ChunkBounds struct {
	Start int
	End   int
}

// Len is the number of entries in the chunk.
func (c ChunkBounds) Len() int {
	return c.End - c.Start
}

// PlanChunks splits n entries into contiguous chunks of at most size entries.
// The chunks are disjoint, in order, and cover [0, n) exactly. n == 0 yields no chunks.
func PlanChunks(n, size int) []ChunkBounds {
	if n <= 0 {
		return nil
	}
	if size <= 0 {
		size = n
	}
	chunks := make([]ChunkBounds, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		chunks = append(chunks, ChunkBounds{Start: start, End: min(start+size, n)})
	}
	return chunks
}
