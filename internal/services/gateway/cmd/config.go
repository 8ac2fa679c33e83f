package main

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port      string
	TimeoutMs int

	MonitorURL     string // es. http://monitor:8080
	PersistenceURL string // es. http://persistence:8080
	EventURL       string // es. http://event-service:8080

	CBFails  int
	CBOpenMs int
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func loadConfig() Config {
	return Config{
		Port:      getenv("PORT", "5009"),
		TimeoutMs: getenvInt("TIMEOUT_MS", 3000),

		MonitorURL:     getenv("MONITOR_URL", "http://monitor:8080"),
		PersistenceURL: getenv("PERSISTENCE_URL", "http://persistence:8080"),
		EventURL:       getenv("EVENT_URL", "http://event-service:8080"),

		CBFails:  getenvInt("CB_FAILS", 3),
		CBOpenMs: getenvInt("CB_OPEN_MS", 10000),
	}
}

func (c Config) timeout() time.Duration { return time.Duration(c.TimeoutMs) * time.Millisecond }
