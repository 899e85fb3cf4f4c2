package logger_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"oplstream/pkg/engine"
	"oplstream/pkg/logger"
	"oplstream/pkg/protocol"
)

func TestJSONLWriterJournalsSnapshots(t *testing.T) {
	var buf bytes.Buffer
	writer := logger.NewJSONLWriter(&buf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan engine.Snapshot, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		writer.Consume(ctx, ch)
	}()

	ts := time.Date(2026, 2, 5, 16, 0, 0, 0, time.UTC)
	ch <- engine.Snapshot{
		Time:       ts,
		State:      protocol.Ready,
		Suspension: protocol.AwaitingCredit,
		Model:      protocol.AckCredits,
		Width:      protocol.Width5,
		Capacity:   51,
		Credits:    0,
		Sent:       120,
		Acked:      69,
		Intended:   1500 * time.Millisecond,
		Elapsed:    1530 * time.Millisecond,
		Drift:      30 * time.Millisecond,
		LastTx:     []byte{0xA0, 0x44, 0xFF, 0xF0, 0x00},
	}
	close(ch)
	wg.Wait()

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("json unmarshal failed: %v", err)
	}
	if rec["state"] != "ready" || rec["suspension"] != "awaiting credit" || rec["model"] != "credits" {
		t.Fatalf("unexpected status fields: %v", rec)
	}
	if rec["last_tx_hex"] != "a044fff000" {
		t.Fatalf("unexpected last_tx_hex: %v", rec["last_tx_hex"])
	}
	if rec["drift_ms"] != 30.0 || rec["sent"] != 120.0 {
		t.Fatalf("unexpected counters: %v", rec)
	}
	tsValue, ok := rec["ts"].(string)
	if !ok {
		t.Fatalf("missing ts field")
	}
	if _, err := time.Parse(time.RFC3339Nano, tsValue); err != nil {
		t.Fatalf("invalid ts format: %v", err)
	}
}

func TestJSONLWriterSessionMarkers(t *testing.T) {
	var buf bytes.Buffer
	writer := logger.NewJSONLWriter(&buf)

	ts := time.Date(2026, 2, 5, 16, 0, 0, 0, time.UTC)
	if err := writer.Session(ts, "start", map[string]any{"file": "<intro>.vgm"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	if err := writer.Session(ts.Add(time.Minute), "end", nil); err != nil {
		t.Fatalf("write end: %v", err)
	}

	var kinds []string
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("json unmarshal failed: %v", err)
		}
		kinds = append(kinds, rec["kind"].(string))
		if rec["kind"] == "start" {
			fields := rec["fields"].(map[string]any)
			if fields["file"] != "<intro>.vgm" {
				t.Fatalf("html escaping applied: %v", fields["file"])
			}
		}
	}
	if len(kinds) != 2 || kinds[0] != "start" || kinds[1] != "end" {
		t.Fatalf("unexpected records: %v", kinds)
	}
}
