package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MutationMetrics holds custom metrics for nested mutation operations.
// A nil *MutationMetrics records nothing.
type MutationMetrics struct {
	operationDuration metric.Float64Histogram
	operationCounter  metric.Int64Counter
	errorCounter      metric.Int64Counter
	activeOperations  metric.Int64UpDownCounter
	entityWrites      metric.Int64Counter
	cascadeDeleted    metric.Int64Histogram
	cascadeReassigned metric.Int64Histogram
	httpRequests      metric.Int64Counter
}

// InitMutationMetrics creates the mutation instruments on the global meter provider.
func InitMutationMetrics() (*MutationMetrics, error) {
	meter := otel.Meter(InstrumentationName)

	operationDuration, err := meter.Float64Histogram(
		"nestedgraph.mutation.duration",
		metric.WithDescription("Duration of nested mutation operations in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation duration histogram: %w", err)
	}

	operationCounter, err := meter.Int64Counter(
		"nestedgraph.mutations.total",
		metric.WithDescription("Total number of nested mutation operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"nestedgraph.mutation.errors.total",
		metric.WithDescription("Total number of failed mutation operations by error kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	activeOperations, err := meter.Int64UpDownCounter(
		"nestedgraph.mutations.active",
		metric.WithDescription("Number of mutation operations in flight"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active operations counter: %w", err)
	}

	entityWrites, err := meter.Int64Counter(
		"nestedgraph.entities.written.total",
		metric.WithDescription("Entities created, updated or deleted by committed mutations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create entity write counter: %w", err)
	}

	cascadeDeleted, err := meter.Int64Histogram(
		"nestedgraph.cascade.deleted",
		metric.WithDescription("Number of rows removed by a cascade delete plan"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cascade deleted histogram: %w", err)
	}

	cascadeReassigned, err := meter.Int64Histogram(
		"nestedgraph.cascade.reassigned",
		metric.WithDescription("Number of references nulled or defaulted by a cascade delete plan"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cascade reassigned histogram: %w", err)
	}

	httpRequests, err := meter.Int64Counter(
		"nestedgraph.http.requests.total",
		metric.WithDescription("Total number of mutation API requests by route and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request counter: %w", err)
	}

	return &MutationMetrics{
		operationDuration: operationDuration,
		operationCounter:  operationCounter,
		errorCounter:      errorCounter,
		activeOperations:  activeOperations,
		entityWrites:      entityWrites,
		cascadeDeleted:    cascadeDeleted,
		cascadeReassigned: cascadeReassigned,
		httpRequests:      httpRequests,
	}, nil
}

// RecordOperation records a finished operation. errorKind is empty on success.
func (m *MutationMetrics) RecordOperation(ctx context.Context, operation, entityType string, duration time.Duration, errorKind string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("entity_type", entityType),
		attribute.Bool("has_errors", errorKind != ""),
	}
	m.operationDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.operationCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if errorKind != "" {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("kind", errorKind),
		))
	}
}

// RecordEntityWrite counts one committed create, update or delete.
func (m *MutationMetrics) RecordEntityWrite(ctx context.Context, entityType, op string) {
	if m == nil {
		return
	}
	m.entityWrites.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity_type", entityType),
		attribute.String("op", op),
	))
}

// RecordCascadePlan records the size of an executed delete plan.
func (m *MutationMetrics) RecordCascadePlan(ctx context.Context, rootType string, deleted, reassigned int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("entity_type", rootType))
	m.cascadeDeleted.Record(ctx, int64(deleted), attrs)
	m.cascadeReassigned.Record(ctx, int64(reassigned), attrs)
}

// RecordHTTPRequest counts one API request.
func (m *MutationMetrics) RecordHTTPRequest(ctx context.Context, route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", route),
		attribute.Int("status", status),
	))
}

// IncrementActiveOperations increments the in-flight counter
func (m *MutationMetrics) IncrementActiveOperations(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeOperations.Add(ctx, 1)
}

// DecrementActiveOperations decrements the in-flight counter
func (m *MutationMetrics) DecrementActiveOperations(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeOperations.Add(ctx, -1)
}

// InitMetrics initializes all custom metrics and returns the MutationMetrics instance
func InitMetrics(logger *slog.Logger) (*MutationMetrics, error) {
	metrics, err := InitMutationMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mutation metrics: %w", err)
	}

	logger.Info("custom mutation metrics initialized")
	return metrics, nil
}

type mutationMetricsContextKey struct{}

// ContextWithMutationMetrics stores mutation metrics in the provided context.
func ContextWithMutationMetrics(ctx context.Context, metrics *MutationMetrics) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, mutationMetricsContextKey{}, metrics)
}

// MutationMetricsFromContext retrieves mutation metrics from the context.
func MutationMetricsFromContext(ctx context.Context) *MutationMetrics {
	if ctx == nil {
		return nil
	}
	metrics, _ := ctx.Value(mutationMetricsContextKey{}).(*MutationMetrics)
	return metrics
}
