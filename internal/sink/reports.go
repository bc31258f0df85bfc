// Package sink exposes what the root node computes: a bounded report log,
// an HTTP API and an MQTT publisher.
package sink

import (
	"sync"

	"github.com/danmuck/tina/internal/node"
	"github.com/danmuck/tina/internal/queue"
)

const DefaultLogSize = 256

// ReportLog keeps the newest epoch reports. Safe for concurrent use.
type ReportLog struct {
	mu sync.RWMutex
	q  *queue.Queue[node.EpochReport]
}

func NewReportLog(capacity int) *ReportLog {
	if capacity <= 0 {
		capacity = DefaultLogSize
	}
	return &ReportLog{q: queue.New[node.EpochReport](capacity, queue.DropOldest, nil)}
}

func (l *ReportLog) Report(r node.EpochReport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.q.Push(r)
}

func (l *ReportLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.q.Len()
}

func (l *ReportLog) Latest() (node.EpochReport, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	items := l.q.Items()
	if len(items) == 0 {
		return node.EpochReport{}, false
	}
	return items[len(items)-1], true
}

// List returns up to limit of the newest reports, oldest first. A limit
// of zero or less returns everything held.
func (l *ReportLog) List(limit int) []node.EpochReport {
	l.mu.RLock()
	defer l.mu.RUnlock()
	items := l.q.Items()
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items
}

// Reporters fans one report out to several reporters in order.
type Reporters []node.Reporter

func (rs Reporters) Report(r node.EpochReport) {
	for _, rep := range rs {
		if rep != nil {
			rep.Report(r)
		}
	}
}
