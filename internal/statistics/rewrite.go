package statistics

import (
	"bufio"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// RewriteRecordList counts how often each rule rewrote traffic for a host.
type RewriteRecordList struct {
	recordAddChan chan *RewriteRecord
	records       map[string]*RewriteRecord
	mu            sync.RWMutex
	dumpFile      string
}

type RewriteRecord struct {
	Host     string    `json:"host"`
	Rule     string    `json:"rule"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

func NewRewriteRecordList(dumpFile string) *RewriteRecordList {
	return &RewriteRecordList{
		recordAddChan: make(chan *RewriteRecord, 100),
		records:       make(map[string]*RewriteRecord, 300),
		dumpFile:      dumpFile,
	}
}

func (l *RewriteRecordList) Run(ctx context.Context) {
	worker(ctx, l.recordAddChan, nil, l.Add, nil, l.Dump)
}

// AddRecord queues a record for the worker, dropping it when the queue is full.
func (l *RewriteRecordList) AddRecord(record *RewriteRecord) {
	select {
	case l.recordAddChan <- record:
	default:
	}
}

func (l *RewriteRecordList) Add(record *RewriteRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := recordKey(record.Host, "|", record.Rule)
	r, exists := l.records[key]
	if !exists {
		r = &RewriteRecord{Host: record.Host, Rule: record.Rule}
		l.records[key] = r
	}
	r.Count++
	r.LastSeen = time.Now()
}

// Snapshot returns a copy of the records, most frequent first.
func (l *RewriteRecordList) Snapshot() []RewriteRecord {
	l.mu.RLock()
	list := make([]RewriteRecord, 0, len(l.records))
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

func (l *RewriteRecordList) Dump() {
	records := l.Snapshot()
	dumpLines(l.dumpFile, func(w *bufio.Writer) error {
		for _, r := range records {
			if _, err := fmt.Fprintf(w, "%s %d %s\n", r.Host, r.Count, r.Rule); err != nil {
				return err
			}
		}
		return nil
	})
}
