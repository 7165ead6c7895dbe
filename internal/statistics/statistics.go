package statistics

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mitmrw/mitmrw/internal/handler"
	"github.com/mitmrw/mitmrw/internal/log"
)

const dumpInterval = 5 * time.Second

// Recorder aggregates per-exchange records and periodically dumps them to
// files under the log directory. It implements handler.Sink.
type Recorder struct {
	RewriteRecordList    *RewriteRecordList
	ResponseRecordList   *ResponseRecordList
	ConnectionRecordList *ConnectionRecordList
}

func New() *Recorder {
	return &Recorder{
		RewriteRecordList:    NewRewriteRecordList(log.GetStatsFilePath("rewrite_stats")),
		ResponseRecordList:   NewResponseRecordList(log.GetStatsFilePath("response_stats")),
		ConnectionRecordList: NewConnectionRecordList(log.GetStatsFilePath("conn_stats")),
	}
}

// Run starts the aggregation workers. They stop when ctx is done.
func (r *Recorder) Run(ctx context.Context) {
	r.RewriteRecordList.Run(ctx)
	r.ResponseRecordList.Run(ctx)
	r.ConnectionRecordList.Run(ctx)
}

// Record counts the response and every rule that rewrote it.
func (r *Recorder) Record(ctx context.Context, rec handler.Record) {
	r.ResponseRecordList.AddRecord(&ResponseRecord{
		Host:        rec.Host,
		Status:      rec.Status,
		ContentType: rec.ContentType,
	})
	for _, name := range rec.Rules {
		r.RewriteRecordList.AddRecord(&RewriteRecord{
			Host: rec.Host,
			Rule: name,
		})
	}
}

func (r *Recorder) AddConnection(record *ConnectionRecord) {
	r.ConnectionRecordList.AddRecord(record)
}

func (r *Recorder) RemoveConnection(record *ConnectionRecord) {
	r.ConnectionRecordList.RemoveRecord(record)
}

var _ handler.Sink = (*Recorder)(nil)

// worker drains add/remove channels into a list and dumps it on a ticker.
func worker[T any](ctx context.Context, add, remove <-chan T, onAdd, onRemove func(T), dump func()) {
	go func() {
		ticker := time.NewTicker(dumpInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case record := <-add:
				onAdd(record)
			case record := <-remove:
				onRemove(record)
			case <-ticker.C:
				dump()
			}
		}
	}()
}

func dumpLines(path string, lines func(w *bufio.Writer) error) {
	f, err := os.Create(path)
	if err != nil {
		slog.Error("os.Create", slog.Any("error", err))
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("os.File.Close", slog.Any("error", err))
		}
	}()

	w := bufio.NewWriter(f)
	if err := lines(w); err != nil {
		slog.Error("statistics dump", slog.String("file", path), slog.Any("error", err))
	}
	if err := w.Flush(); err != nil {
		slog.Error("bufio.Writer.Flush", slog.Any("error", err))
	}
}

func recordKey(parts ...any) string {
	return fmt.Sprint(parts...)
}
