package archiver

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/dbchat/dbchat/internal/audit"
)

// archiveRow is the flat parquet schema for one audit event. The table list
// is JSON-encoded and times are unix milliseconds, so every column stays
// scalar and easy to query from any engine.
type archiveRow struct {
	EventID         string `parquet:"event_id"`
	SessionID       string `parquet:"session_id"`
	TraceID         string `parquet:"trace_id"`
	Intent          string `parquet:"intent"`
	TablesJSON      string `parquet:"tables_json"`
	SQLText         string `parquet:"sql_text"`
	RowCount        int64  `parquet:"row_count"`
	Truncated       bool   `parquet:"truncated"`
	Status          string `parquet:"status"`
	ErrorCode       string `parquet:"error_code"`
	DurationMS      int64  `parquet:"duration_ms"`
	CreatedAtUnixMs int64  `parquet:"created_at_unix_ms"`
}

func encodeArchive(events []audit.Event) ([]byte, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("events are required")
	}

	rows := make([]archiveRow, 0, len(events))
	for _, event := range events {
		tables, err := json.Marshal(event.Tables)
		if err != nil {
			return nil, fmt.Errorf("encode tables for event %q: %w", event.EventID, err)
		}
		rows = append(rows, archiveRow{
			EventID:         event.EventID,
			SessionID:       event.SessionID,
			TraceID:         event.TraceID,
			Intent:          event.Intent,
			TablesJSON:      string(tables),
			SQLText:         event.SQL,
			RowCount:        int64(event.RowCount),
			Truncated:       event.Truncated,
			Status:          event.Status,
			ErrorCode:       event.ErrorCode,
			DurationMS:      event.DurationMS,
			CreatedAtUnixMs: event.CreatedAt.UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[archiveRow](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
