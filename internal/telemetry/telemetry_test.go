package telemetry

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseHeaders(t *testing.T) {
	got := parseHeaders(" Authorization=Basic abc , x-team = judges,broken, =nokey")
	want := map[string]string{
		"Authorization": "Basic abc",
		"x-team":        "judges",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseHeaders mismatch (-want +got):\n%s", diff)
	}
	if len(parseHeaders("")) != 0 {
		t.Error("expected no headers for empty input")
	}
}

func TestInit_NoEndpoint(t *testing.T) {
	tel, err := Init(context.Background(), Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer tel.Shutdown(context.Background())

	if tel.Enabled() {
		t.Error("expected telemetry disabled without endpoint")
	}
	if tel.Tracer == nil {
		t.Fatal("expected a tracer even when disabled")
	}
	_, span := tel.Tracer.Start(context.Background(), "noop")
	span.End()
}

func TestInit_BadEndpoint(t *testing.T) {
	if _, err := Init(context.Background(), Config{Endpoint: "not a url"}); err == nil {
		t.Error("expected error for invalid endpoint")
	}
}
