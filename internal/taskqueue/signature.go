package taskqueue

// Signature is the serialisable description of one unit of work handed
// to the queue. The orchestrator core never inspects a signature after
// submission; workers deserialise it on their side.
type Signature struct {
	// Operation names the worker procedure, e.g. "crawl_chunk"
	Operation string `json:"operation"`
	// Args are positional arguments
	Args []any `json:"args,omitempty"`
	// Kwargs are keyword arguments
	Kwargs map[string]any `json:"kwargs,omitempty"`
	// Queue is the target queue name
	Queue string `json:"queue"`
	// Priority orders delivery (higher first)
	Priority int `json:"priority"`
}

// CrawlChunkSignature builds the signature for one chunk of an
// image-collection job.
func CrawlChunkSignature(queue string, jobID, chunkID int64, rangeStart, rangeEnd int, keywords []string, engine string, priority int) Signature {
	return Signature{
		Operation: "crawl_chunk",
		Kwargs: map[string]any{
			"job_id":      jobID,
			"chunk_id":    chunkID,
			"range_start": rangeStart,
			"range_end":   rangeEnd,
			"keywords":    keywords,
			"engine":      engine,
		},
		Queue:    queue,
		Priority: priority,
	}
}
