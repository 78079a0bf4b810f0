package apierr

import (
	"log/slog"

	"hf-gateway/internal/metrics"
	"hf-gateway/internal/stream"
)

// StreamReporter returns a stream.Reporter that logs against requestID.
func (m *Mapper) StreamReporter(requestID string) stream.Reporter {
	return &streamReporter{mapper: m, requestID: requestID}
}

type streamReporter struct {
	mapper    *Mapper
	requestID string
}

func (r *streamReporter) UnitSkipped(streamID string, data []byte, err error) {
	metrics.StreamUnitsTotal.WithLabelValues(metrics.UnitSkipped).Inc()
	r.mapper.logger.Debug("skipping unparseable stream unit",
		"request_id", r.requestID,
		"stream_id", streamID,
		"unit", r.mapper.sanitize(string(data)),
		"error", err,
	)
}

func (r *streamReporter) UnitDiscarded(streamID string, ev stream.Event) {
	metrics.StreamUnitsTotal.WithLabelValues(metrics.UnitDiscarded).Inc()
	r.mapper.logger.Warn("discarding stream unit received after terminator",
		"request_id", r.requestID,
		"stream_id", streamID,
		"sentinel", ev.Kind == stream.EventDone,
	)
}

func (r *streamReporter) StreamFailed(streamID string, err error) {
	c := r.mapper.classify(err)
	metrics.ErrorsTotal.WithLabelValues(string(c.errType)).Inc()
	r.mapper.log(r.requestID, "stream terminated abnormally", c, err, slog.String("stream_id", streamID))
}
