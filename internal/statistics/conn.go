package statistics

import (
	"bufio"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type ConnectionRecordList struct {
	recordAddChan    chan *ConnectionRecord
	recordRemoveChan chan *ConnectionRecord
	records          map[string]*ConnectionRecord
	mu               sync.RWMutex
	dumpFile         string
}

// ConnectionRecord describes one live client connection. Mode is how the
// proxy handles it: "mitm", "tunnel" or "http".
type ConnectionRecord struct {
	Mode      string    `json:"mode"`
	SrcAddr   string    `json:"src_addr"`
	DestAddr  string    `json:"dest_addr"`
	StartTime time.Time `json:"start_time"`
}

func NewConnectionRecordList(dumpFile string) *ConnectionRecordList {
	return &ConnectionRecordList{
		recordAddChan:    make(chan *ConnectionRecord, 500),
		recordRemoveChan: make(chan *ConnectionRecord, 500),
		records:          make(map[string]*ConnectionRecord, 500),
		dumpFile:         dumpFile,
	}
}

func (l *ConnectionRecordList) Run(ctx context.Context) {
	worker(ctx, l.recordAddChan, l.recordRemoveChan, l.Add, l.Remove, l.Dump)
}

func (l *ConnectionRecordList) AddRecord(record *ConnectionRecord) {
	select {
	case l.recordAddChan <- record:
	default:
	}
}

func (l *ConnectionRecordList) RemoveRecord(record *ConnectionRecord) {
	select {
	case l.recordRemoveChan <- record:
	default:
	}
}

func (l *ConnectionRecordList) Add(record *ConnectionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := recordKey(record.SrcAddr, "-", record.DestAddr)
	if r, exists := l.records[key]; exists {
		r.Mode = record.Mode
		return
	}
	startTime := record.StartTime
	if startTime.IsZero() {
		startTime = time.Now()
	}
	l.records[key] = &ConnectionRecord{
		Mode:      record.Mode,
		SrcAddr:   record.SrcAddr,
		DestAddr:  record.DestAddr,
		StartTime: startTime,
	}
}

func (l *ConnectionRecordList) Remove(record *ConnectionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, recordKey(record.SrcAddr, "-", record.DestAddr))
}

// Snapshot returns the live connections, newest first.
func (l *ConnectionRecordList) Snapshot() []ConnectionRecord {
	l.mu.RLock()
	list := make([]ConnectionRecord, 0, len(l.records))
	for _, r := range l.records {
		list = append(list, *r)
	}
	l.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].StartTime.After(list[j].StartTime)
	})
	return list
}

func (l *ConnectionRecordList) Dump() {
	records := l.Snapshot()
	dumpLines(l.dumpFile, func(w *bufio.Writer) error {
		for _, r := range records {
			_, err := fmt.Fprintf(w, "%s %s %s %d\n",
				r.Mode, r.SrcAddr, r.DestAddr, int(time.Since(r.StartTime).Seconds()))
			if err != nil {
				return err
			}
		}
		return nil
	})
}
