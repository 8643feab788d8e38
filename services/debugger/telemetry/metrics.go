// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the pre-defined instruments of the debugger service.
// All metrics use the "debugger_" prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// WatchpointsCreated counts watchpoint creations by condition id.
	WatchpointsCreated metric.Int64Counter

	// WatchpointHits counts accepted watchpoint hit reports.
	WatchpointHits metric.Int64Counter

	// CommandPolls counts trainer command polls by outcome.
	CommandPolls metric.Int64Counter

	// CommandWaitDuration records how long a poll blocked, in seconds.
	CommandWaitDuration metric.Float64Histogram

	// TensorBytesReceived counts tensor payload bytes ingested.
	TensorBytesReceived metric.Int64Counter

	// TensorsOversized counts tensor values dropped for exceeding the
	// cache ceiling.
	TensorsOversized metric.Int64Counter

	// SessionsActive tracks currently open sessions.
	SessionsActive metric.Int64UpDownCounter

	// HeartbeatMisses counts missed heartbeat periods.
	HeartbeatMisses metric.Int64Counter
}

// NewMetrics registers all debugger instruments on the global meter.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("tensorwatch/debugger")
	m := &Metrics{}
	var err error

	if m.WatchpointsCreated, err = meter.Int64Counter(
		"debugger_watchpoints_created_total",
		metric.WithDescription("Total watchpoints created"),
	); err != nil {
		return nil, fmt.Errorf("register watchpoints_created: %w", err)
	}
	if m.WatchpointHits, err = meter.Int64Counter(
		"debugger_watchpoint_hits_total",
		metric.WithDescription("Total accepted watchpoint hit reports"),
	); err != nil {
		return nil, fmt.Errorf("register watchpoint_hits: %w", err)
	}
	if m.CommandPolls, err = meter.Int64Counter(
		"debugger_command_polls_total",
		metric.WithDescription("Total trainer command polls"),
	); err != nil {
		return nil, fmt.Errorf("register command_polls: %w", err)
	}
	if m.CommandWaitDuration, err = meter.Float64Histogram(
		"debugger_command_wait_duration_seconds",
		metric.WithDescription("Time a command poll spent blocked"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("register command_wait_duration: %w", err)
	}
	if m.TensorBytesReceived, err = meter.Int64Counter(
		"debugger_tensor_bytes_received_total",
		metric.WithDescription("Tensor payload bytes ingested"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, fmt.Errorf("register tensor_bytes_received: %w", err)
	}
	if m.TensorsOversized, err = meter.Int64Counter(
		"debugger_tensors_oversized_total",
		metric.WithDescription("Tensor values dropped for exceeding the cache ceiling"),
	); err != nil {
		return nil, fmt.Errorf("register tensors_oversized: %w", err)
	}
	if m.SessionsActive, err = meter.Int64UpDownCounter(
		"debugger_sessions_active",
		metric.WithDescription("Currently open debugger sessions"),
	); err != nil {
		return nil, fmt.Errorf("register sessions_active: %w", err)
	}
	if m.HeartbeatMisses, err = meter.Int64Counter(
		"debugger_heartbeat_misses_total",
		metric.WithDescription("Missed trainer heartbeat periods"),
	); err != nil {
		return nil, fmt.Errorf("register heartbeat_misses: %w", err)
	}
	return m, nil
}

// RecordWatchpointCreated increments the creation counter. Safe on a nil
// receiver so callers can run without metrics wired.
func (m *Metrics) RecordWatchpointCreated(ctx context.Context, conditionID string) {
	if m == nil {
		return
	}
	m.WatchpointsCreated.Add(ctx, 1,
		metric.WithAttributes(attribute.String("condition", conditionID)))
}

// RecordSessionDelta adjusts the active session gauge. Safe on a nil
// receiver.
func (m *Metrics) RecordSessionDelta(ctx context.Context, delta int64, mode string) {
	if m == nil {
		return
	}
	m.SessionsActive.Add(ctx, delta,
		metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordHits counts accepted hit reports. Safe on a nil receiver.
func (m *Metrics) RecordHits(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.WatchpointHits.Add(ctx, n)
}

// RecordPoll increments the poll counter with its outcome. Safe on a nil
// receiver.
func (m *Metrics) RecordPoll(ctx context.Context, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.CommandPolls.Add(ctx, 1, attrs)
	m.CommandWaitDuration.Record(ctx, seconds, attrs)
}
