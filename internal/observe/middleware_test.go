package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const incomingTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

// adminHandler wraps a mux shaped like the daemon's admin server.
func adminHandler(t *testing.T) (http.Handler, *sdkmetric.ManualReader) {
	t.Helper()
	m, reader := newTestMetrics(t)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("GET /trace", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(TraceID(r.Context())))
	})
	return Middleware(m)(mux), reader
}

func TestMiddleware_Requests(t *testing.T) {
	exp := useTracer(t)
	h, _ := adminHandler(t)

	tests := []struct {
		path       string
		wantStatus int
		wantSpan   string
	}{
		{"/healthz", http.StatusOK, "HTTP GET /healthz"},
		{"/readyz", http.StatusServiceUnavailable, "HTTP GET /readyz"},
		{"/nope", http.StatusNotFound, "HTTP GET /nope"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			exp.Reset()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if len(rec.Header().Get("X-Trace-ID")) != 32 {
				t.Errorf("X-Trace-ID = %q", rec.Header().Get("X-Trace-ID"))
			}
			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			if spans[0].Name != tt.wantSpan {
				t.Errorf("span = %q, want %q", spans[0].Name, tt.wantSpan)
			}
			var code int64
			for _, a := range spans[0].Attributes {
				if a.Key == "http.response.status_code" {
					code = a.Value.AsInt64()
				}
			}
			if code != int64(tt.wantStatus) {
				t.Errorf("span status attribute = %d, want %d", code, tt.wantStatus)
			}
		})
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	useTracer(t)
	h, _ := adminHandler(t)

	req := httptest.NewRequest("GET", "/trace", nil)
	req.Header.Set("traceparent", "00-"+incomingTraceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Body.String(); got != incomingTraceID {
		t.Errorf("handler trace ID = %q, want %q", got, incomingTraceID)
	}
	if got := rec.Header().Get("X-Trace-ID"); got != incomingTraceID {
		t.Errorf("X-Trace-ID = %q, want %q", got, incomingTraceID)
	}
}

func TestMiddleware_DurationUsesMuxPattern(t *testing.T) {
	useTracer(t)
	h, reader := adminHandler(t)

	for range 2 {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "voxtrigger.http.request.duration")
	if met == nil {
		t.Fatal("voxtrigger.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric is %T, want histogram", met.Data)
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 2 {
		t.Errorf("count = %d, want 2", dp.Count)
	}
	if v, _ := dp.Attributes.Value(attribute.Key("path")); v.AsString() != "GET /healthz" {
		t.Errorf("path = %q, want the mux pattern", v.AsString())
	}
	if v, _ := dp.Attributes.Value(attribute.Key("method")); v.AsString() != "GET" {
		t.Errorf("method = %q", v.AsString())
	}
}
