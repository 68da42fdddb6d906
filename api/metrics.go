package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName        = "github.com/nakulsingh04/kanban-board-project/api"
	requestEventName  = "observability.event"
	requestDomain     = "taskboard.api"
	attributeNSPrefix = "taskboard."
)

// requestMetrics records one request as an OpenTelemetry span plus a single
// structured log entry.
type requestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	name          string
	route         string
	start         time.Time
	storeDuration time.Duration
	errorStage    string
	attrs         map[string]any
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, name, route string) (*requestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.route", route)),
	)
	return &requestMetrics{
		logger: logger,
		span:   span,
		name:   name,
		route:  route,
		start:  time.Now(),
		attrs:  map[string]any{},
	}, spanCtx
}

func (m *requestMetrics) ObserveStore(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.storeDuration += duration
}

// Set records a request specific attribute under the taskboard namespace.
func (m *requestMetrics) Set(key string, value any) {
	m.attrs[attributeNSPrefix+key] = value
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	attrs := make(map[string]any, len(m.attrs)+6)
	for k, v := range m.attrs {
		attrs[k] = v
	}
	attrs["http.route"] = m.route
	attrs["http.status_code"] = status
	attrs[attributeNSPrefix+"total_ms"] = durationToMillis(time.Since(m.start))
	if m.storeDuration > 0 {
		attrs[attributeNSPrefix+"store_ms"] = durationToMillis(m.storeDuration)
	}
	if m.errorStage != "" {
		attrs[attributeNSPrefix+"error_stage"] = m.errorStage
	}
	if err != nil {
		attrs["error.message"] = err.Error()
	}

	sevText, sevNumber := severityForStatus(status, err)

	if m.span != nil {
		kvs := toAttributes(attrs)
		m.span.SetAttributes(kvs...)
		m.span.AddEvent(requestEventName, trace.WithAttributes(append(kvs,
			attribute.String("event.name", m.name),
			attribute.String("event.domain", requestDomain),
			attribute.String("severity_text", sevText),
		)...))
		switch {
		case err != nil:
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		case status >= http.StatusInternalServerError:
			m.span.SetStatus(codes.Error, http.StatusText(status))
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      m.name,
		"event.domain":    requestDomain,
		"attributes":      attrs,
		"severity_text":   sevText,
		"severity_number": sevNumber,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	entry := m.logger.WithFields(fields)
	switch sevText {
	case "ERROR":
		entry.Error(requestEventName)
	case "WARN":
		entry.Warn(requestEventName)
	default:
		entry.Info(requestEventName)
	}
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	}
	return "INFO", 9
}

func toAttributes(attrs map[string]any) []attribute.KeyValue {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		switch v := attrs[k].(type) {
		case string:
			out = append(out, attribute.String(k, v))
		case bool:
			out = append(out, attribute.Bool(k, v))
		case int:
			out = append(out, attribute.Int(k, v))
		case int64:
			out = append(out, attribute.Int64(k, v))
		case float64:
			out = append(out, attribute.Float64(k, v))
		default:
			out = append(out, attribute.String(k, fmt.Sprint(v)))
		}
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
