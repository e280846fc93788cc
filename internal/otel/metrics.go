package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all taskdeck metric instruments.
type Metrics struct {
	ToolCallDuration metric.Float64Histogram
	ToolCallErrors   metric.Int64Counter
	TasksCreated     metric.Int64Counter
	TaskTransitions  metric.Int64Counter
	TasksPurged      metric.Int64Counter
	OpenStores       metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ToolCallDuration, err = meter.Float64Histogram("taskdeck.tool.duration",
		metric.WithDescription("Tool call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallErrors, err = meter.Int64Counter("taskdeck.tool.errors",
		metric.WithDescription("Tool call error count"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksCreated, err = meter.Int64Counter("taskdeck.task.created",
		metric.WithDescription("Tasks created"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskTransitions, err = meter.Int64Counter("taskdeck.task.transitions",
		metric.WithDescription("Task status transitions committed"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksPurged, err = meter.Int64Counter("taskdeck.task.purged",
		metric.WithDescription("Soft-deleted tasks permanently purged"),
	)
	if err != nil {
		return nil, err
	}

	m.OpenStores, err = meter.Int64UpDownCounter("taskdeck.store.open",
		metric.WithDescription("Workspace task stores currently open"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
