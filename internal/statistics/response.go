package statistics

import (
	"bufio"
	"context"
	"fmt"
	"sort"
	"sync"
)

// ResponseRecordList aggregates the "[Response] status host content-type"
// records emitted by the handler.
type ResponseRecordList struct {
	recordAddChan chan *ResponseRecord
	records       map[string]*ResponseRecord
	mu            sync.RWMutex
	dumpFile      string
}

type ResponseRecord struct {
	Host        string `json:"host"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Count       int    `json:"count"`
}

func NewResponseRecordList(dumpFile string) *ResponseRecordList {
	return &ResponseRecordList{
		recordAddChan: make(chan *ResponseRecord, 100),
		records:       make(map[string]*ResponseRecord, 300),
		dumpFile:      dumpFile,
	}
}

func (l *ResponseRecordList) Run(ctx context.Context) {
	worker(ctx, l.recordAddChan, nil, l.Add, nil, l.Dump)
}

func (l *ResponseRecordList) AddRecord(record *ResponseRecord) {
	select {
	case l.recordAddChan <- record:
	default:
	}
}

func (l *ResponseRecordList) Add(record *ResponseRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := recordKey(record.Host, "|", record.Status, "|", record.ContentType)
	if r, exists := l.records[key]; exists {
		r.Count++
		return
	}
	l.records[key] = &ResponseRecord{
		Host:        record.Host,
		Status:      record.Status,
		ContentType: record.ContentType,
		Count:       1,
	}
}

func (l *ResponseRecordList) Snapshot() []ResponseRecord {
	l.mu.RLock()
	list := make([]ResponseRecord, 0, len(l.records))
	for _, r := range l.records {
		list = append(list, *r)
	}
	l.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Count != list[j].Count {
			return list[i].Count > list[j].Count
		}
		return list[i].Host < list[j].Host
	})
	return list
}

func (l *ResponseRecordList) Dump() {
	records := l.Snapshot()
	dumpLines(l.dumpFile, func(w *bufio.Writer) error {
		for _, r := range records {
			_, err := fmt.Fprintf(w, "%s %d %d %s\n", r.Host, r.Status, r.Count, r.ContentType)
			if err != nil {
				return err
			}
		}
		return nil
	})
}
