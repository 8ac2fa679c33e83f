package event

import (
	"encoding/json"
	"net/http"
	"time"
)

// Connected is satisfied by mqtt.Client.
type Connected interface {
	IsConnectionOpen() bool
}

type healthHandler struct {
	mqtt   Connected
	writer *Writer
}

func NewHealthHandler(m Connected, w *Writer) http.Handler {
	return &healthHandler{mqtt: m, writer: w}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status          string  `json:"status"`
		MQTTConnected   bool    `json:"mqtt_connected"`
		InfluxOK        bool    `json:"influx_ok"`
		LastWriteErrorS float64 `json:"last_write_error_age_sec"`
	}
	age := h.writer.LastErrorAge()
	st := status{
		MQTTConnected:   h.mqtt != nil && h.mqtt.IsConnectionOpen(),
		InfluxOK:        h.writer != nil && age > 30*time.Second,
		LastWriteErrorS: age.Seconds(),
	}
	switch {
	case st.MQTTConnected && st.InfluxOK:
		st.Status = "ok"
	case st.MQTTConnected || st.InfluxOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	writeJSON(w, http.StatusOK, st)
}

// readyHandler: 200 solo se tutte le dipendenze sono ok.
type readyHandler struct {
	mqtt     Connected
	writer   *Writer
	minError time.Duration
}

func NewReadyHandler(m Connected, w *Writer, minOkErrorAge time.Duration) http.Handler {
	return &readyHandler{mqtt: m, writer: w, minError: minOkErrorAge}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := h.mqtt != nil && h.mqtt.IsConnectionOpen() && h.writer != nil && h.writer.LastErrorAge() > h.minError
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]bool{"ready": ready})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
