package scheduler

// EventSink receives one call per work item that reaches a terminal state,
// plus the aggregate summary when the run ends. The journal, the telemetry
// exporter, and the structured log all sit behind this interface.
type EventSink interface {
	ItemFinished(res ItemResult)
	RunFinished(sum Summary)
}

// multiSink fans events out to every configured sink.
type multiSink []EventSink

func (m multiSink) ItemFinished(res ItemResult) {
	for _, sink := range m {
		sink.ItemFinished(res)
	}
}

func (m multiSink) RunFinished(sum Summary) {
	for _, sink := range m {
		sink.RunFinished(sum)
	}
}
