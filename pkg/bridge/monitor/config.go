package monitor

import "time"

const Subprotocol = "oplstream.monitor.v1"

type Config struct {
	WSAddr string
	Name   string
	// Interval limits how often status is pushed; the newest snapshot wins.
	Interval time.Duration
	SendBuf  int
}

func DefaultConfig() Config {
	return Config{
		WSAddr:   "127.0.0.1:8766",
		Name:     "oplstream",
		Interval: 100 * time.Millisecond,
		SendBuf:  64,
	}
}
