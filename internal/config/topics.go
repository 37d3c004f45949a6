package config

const (
	// TopicPaperIndex carries papers whose summaries should be pre-indexed.
	TopicPaperIndex = "paper.index"

	// ChannelIndexWorker is the NSQ channel the index worker consumes from.
	ChannelIndexWorker = "index-worker"
)
