// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("dbcpatch.patch")

var (
	// rulesTotal counts replayed rules by op and outcome
	rulesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbcpatch_rules_total",
		Help: "Total patch rules replayed by op and outcome",
	}, []string{"op", "status"})

	// rulesGenerated tracks document size per generation
	rulesGenerated = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dbcpatch_generated_rules",
		Help:    "Number of rules per generated patch document",
		Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
	})

	// workflowDuration tracks end-to-end workflow latency
	workflowDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dbcpatch_workflow_duration_seconds",
		Help:    "Workflow duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
	}, []string{"workflow"})

	// workflowErrors counts failed workflows
	workflowErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbcpatch_workflow_errors_total",
		Help: "Total failed workflows by workflow",
	}, []string{"workflow"})
)

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "patch.Workflow."+name, trace.WithAttributes(attrs...))
}

// endSpan records err on span and closes it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func setReportAttributes(span trace.Span, r *Report) {
	span.SetAttributes(
		attribute.Int("patch.applied", len(r.Applied)),
		attribute.Int("patch.skipped", len(r.Skipped)),
		attribute.Int("patch.conflicts", len(r.Conflicts)),
	)
}
