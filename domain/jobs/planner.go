package jobs

import (
	"github.com/crawlforge/crawlforge/pkg/apperror"
	"github.com/crawlforge/crawlforge/pkg/mathutil"
)

// PlanChunks splits a target image count into contiguous fixed-size
// chunks. The ranges partition [0, targetCount): chunk i covers
// [i*size, min((i+1)*size, targetCount)-1].
func PlanChunks(jobID int64, targetCount, chunkSize, priority int) ([]Chunk, error) {
	if targetCount <= 0 {
		return nil, apperror.NewBadRequest("target image count must be positive")
	}
	if chunkSize <= 0 {
		return nil, apperror.NewInternal("chunk size must be positive", nil)
	}

	n := mathutil.CeilDiv(targetCount, chunkSize)
	chunks := make([]Chunk, n)
	for i := 0; i < n; i++ {
		end := (i+1)*chunkSize - 1
		if end > targetCount-1 {
			end = targetCount - 1
		}
		chunks[i] = Chunk{
			JobID:      jobID,
			ChunkIndex: i,
			Status:     ChunkPending,
			Priority:   priority,
			RangeStart: i * chunkSize,
			RangeEnd:   end,
		}
	}

	return chunks, nil
}
