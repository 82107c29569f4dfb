package commands

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/regbus/regbus-go/pkg/log"
	"github.com/regbus/regbus-go/pkg/wire"
)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.rlog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func sampleEvents() []log.Event {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	dest := uint8(2)
	return []log.Event{
		{
			Timestamp:    ts,
			ConnectionID: "abc12345",
			Direction:    log.DirectionOut,
			Layer:        log.LayerRegister,
			Category:     log.CategoryFrame,
			Destination:  &dest,
			Frame:        &log.FrameEvent{Opcode: wire.OpRead, ID: 1, Address: 0x41200, Words: 2, Size: 20, Attempt: 1},
		},
		{
			Timestamp:    ts.Add(time.Millisecond),
			ConnectionID: "abc12345",
			Direction:    log.DirectionIn,
			Layer:        log.LayerRegister,
			Category:     log.CategoryFrame,
			Destination:  &dest,
			Frame:        &log.FrameEvent{Opcode: wire.OpReadResponse, ID: 1, Address: 0x41200, Words: 2, Size: 28},
		},
		{
			Timestamp:    ts.Add(2 * time.Millisecond),
			ConnectionID: "abc12345",
			Direction:    log.DirectionOut,
			Layer:        log.LayerReliability,
			Category:     log.CategorySegment,
			Segment:      &log.SegmentEvent{Flags: wire.FlagACK, Seq: 3, Ack: 4, Window: 32},
		},
	}
}

func TestExportToJSONL(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, "jsonl", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("line %d is not JSON: %v", lines+1, err)
		}
		if m["ConnectionID"] != "abc12345" {
			t.Errorf("line %d: unexpected connection ID %v", lines+1, m["ConnectionID"])
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("expected 3 lines, got %d", lines)
	}
}

func TestExportToCSV(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.csv")

	if err := RunExport(path, "csv", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse CSV: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", len(records))
	}
	if records[0][0] != "timestamp" {
		t.Errorf("unexpected header: %v", records[0])
	}

	read := records[1]
	if read[5] != "2" || read[6] != "READ" || read[8] != "0x41200" || read[9] != "2" {
		t.Errorf("unexpected read row: %v", read)
	}
	if read[10] != "" {
		t.Errorf("request row should have no status: %v", read)
	}
	if resp := records[2]; resp[6] != "READ_RESPONSE" || resp[10] != "0" {
		t.Errorf("unexpected response row: %v", resp)
	}
	if seg := records[3]; seg[6] != "segment" || seg[7] != "3" {
		t.Errorf("unexpected segment row: %v", seg)
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	err := RunExport(path, "xml", filepath.Join(t.TempDir(), "out"))
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
	if !strings.Contains(err.Error(), "unknown format") {
		t.Errorf("unexpected error: %v", err)
	}
}
