package event

import (
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
)

// PointWriter is the part of the async influx WriteAPI the writer needs.
type PointWriter interface {
	WritePoint(point *write.Point)
	Errors() <-chan error
}

// Writer incapsula la WriteAPI asincrona e traccia l'ultimo errore per /healthz e /readyz.
type Writer struct {
	api    PointWriter
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	lastErr time.Time
	counts  map[string]int64
}

// NewWriter starts draining the async error channel of w.
func NewWriter(w PointWriter, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	ww := &Writer{
		api:     w,
		logger:  logger,
		now:     time.Now,
		lastErr: time.Now().Add(-24 * time.Hour), // "lontano nel tempo"
		counts:  make(map[string]int64),
	}
	go func() {
		for err := range w.Errors() {
			if err == nil {
				continue
			}
			ww.mu.Lock()
			ww.lastErr = ww.now()
			ww.mu.Unlock()
			ww.logger.Warn("influx write error", zap.Error(err))
		}
	}()
	return ww
}

// Write queues evt on the async API.
func (w *Writer) Write(evt CommonEvent) {
	w.api.WritePoint(EventToPoint(evt))
	w.mu.Lock()
	w.counts[evt.EventType]++
	w.mu.Unlock()
}

// LastErrorAge ritorna da quanto tempo non si verificano errori di scrittura.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return w.now().Sub(t)
}

func (w *Writer) Count(eventType string) int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.counts[eventType]
}
