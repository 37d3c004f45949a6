package worker

// IndexPaperPayload is published on config.TopicPaperIndex for every paper
// whose summary should be indexed ahead of the first question about it.
type IndexPaperPayload struct {
	PaperID       string `json:"paper_id"`
	Title         string `json:"title"`
	Summary       string `json:"summary"`
	CorrelationID string `json:"correlation_id"`
}
