package ctxutil

import (
	"context"
	"testing"
)

func TestRequestDataRoundTrip(t *testing.T) {
	ctx := WithRequestData(context.Background(), &RequestData{UserID: " u-1 "})
	if got := UserID(ctx); got != "u-1" {
		t.Fatalf("UserID: want=u-1 got=%q", got)
	}
	if got := UserID(context.Background()); got != "" {
		t.Fatalf("UserID on empty ctx: want=\"\" got=%q", got)
	}
}

func TestTraceDataRoundTrip(t *testing.T) {
	ctx := WithTraceData(context.Background(), &TraceData{RequestID: "r-1"})
	td := GetTraceData(ctx)
	if td == nil || td.RequestID != "r-1" {
		t.Fatalf("trace data: got=%+v", td)
	}
}
