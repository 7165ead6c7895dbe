package handler

import (
	"context"
	"log/slog"
)

// Record describes a response that went through the response fold.
type Record struct {
	ID          string
	Status      int
	Host        string
	ContentType string
	Rules       []string
}

func (r Record) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", r.ID),
		slog.Int("status", r.Status),
		slog.String("host", r.Host),
		slog.String("content_type", r.ContentType),
		slog.Any("rules", r.Rules),
	)
}

// Sink receives one Record per response phase that ran transforms.
type Sink interface {
	Record(ctx context.Context, rec Record)
}

type SinkFunc func(ctx context.Context, rec Record)

func (f SinkFunc) Record(ctx context.Context, rec Record) {
	f(ctx, rec)
}

// LogSink logs each record as "[Response] <status> <host> <content-type>".
type LogSink struct{}

func (LogSink) Record(ctx context.Context, rec Record) {
	slog.InfoContext(ctx, "[Response]",
		slog.Int("status", rec.Status),
		slog.String("host", rec.Host),
		slog.String("content_type", rec.ContentType),
		slog.String("id", rec.ID),
	)
}

// MultiSink fans a record out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, rec Record) {
	for _, s := range m {
		s.Record(ctx, rec)
	}
}
