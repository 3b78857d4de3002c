package kv

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/d60-Lab/board/internal/keys"
)

const tracerName = "github.com/d60-Lab/board/internal/kv"

// Traced wraps a Store and records one span per call. Not-found reads are
// not marked as errors.
type Traced struct {
	inner  Store
	bucket string
	tracer trace.Tracer
}

func NewTraced(inner Store, bucket string) *Traced {
	return &Traced{inner: inner, bucket: bucket, tracer: otel.Tracer(tracerName)}
}

// TracedOpener decorates every bucket store returned by open.
func TracedOpener(open Opener) Opener {
	return func(bucket string) Store { return NewTraced(open(bucket), bucket) }
}

func (t *Traced) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("kv.bucket", t.bucket))
	return t.tracer.Start(ctx, "kv."+op, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindClient))
}

func finish(span trace.Span, err error) {
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (t *Traced) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := t.start(ctx, "get", attribute.String("kv.key", key))
	v, err := t.inner.Get(ctx, key)
	finish(span, err)
	return v, err
}

func (t *Traced) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := t.start(ctx, "put", attribute.String("kv.key", key), attribute.Int64("kv.ttl_ms", ttl.Milliseconds()))
	err := t.inner.Put(ctx, key, value, ttl)
	finish(span, err)
	return err
}

func (t *Traced) Delete(ctx context.Context, key string) error {
	ctx, span := t.start(ctx, "delete", attribute.String("kv.key", key))
	err := t.inner.Delete(ctx, key)
	finish(span, err)
	return err
}

func (t *Traced) Take(ctx context.Context, key string) ([]byte, error) {
	ctx, span := t.start(ctx, "take", attribute.String("kv.key", key))
	v, err := t.inner.Take(ctx, key)
	finish(span, err)
	return v, err
}

func (t *Traced) Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, error) {
	ctx, span := t.start(ctx, "update", attribute.String("kv.key", key))
	v, err := t.inner.Update(ctx, key, fn)
	if errors.Is(err, ErrConflict) {
		span.SetAttributes(attribute.Bool("kv.conflict", true))
	}
	finish(span, err)
	return v, err
}

func (t *Traced) Batch(ctx context.Context, ops []Op) error {
	ctx, span := t.start(ctx, "batch", attribute.Int("kv.ops", len(ops)))
	err := t.inner.Batch(ctx, ops)
	if errors.Is(err, ErrExists) {
		span.SetAttributes(attribute.Bool("kv.conflict", true))
	}
	finish(span, err)
	return err
}

func rangeAttrs(r keys.Range) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("kv.limit", r.Limit),
		attribute.Bool("kv.reverse", r.Reverse),
	}
}

func (t *Traced) ScanKeys(ctx context.Context, r keys.Range) ([]string, error) {
	ctx, span := t.start(ctx, "scan_keys", rangeAttrs(r)...)
	out, err := t.inner.ScanKeys(ctx, r)
	span.SetAttributes(attribute.Int("kv.results", len(out)))
	finish(span, err)
	return out, err
}

func (t *Traced) Scan(ctx context.Context, r keys.Range) ([]Entry, error) {
	ctx, span := t.start(ctx, "scan", rangeAttrs(r)...)
	out, err := t.inner.Scan(ctx, r)
	span.SetAttributes(attribute.Int("kv.results", len(out)))
	finish(span, err)
	return out, err
}
