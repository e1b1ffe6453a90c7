// Package output provides output formatting for fabrictl.
package output

import (
	"bytes"
	"encoding/json"
	"io"
)

// JSONFormatter formats data as JSON.
type JSONFormatter struct{}

// Format formats data as indented JSON.
func (f *JSONFormatter) Format(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// RawFormatter is implemented by formatters that can render an
// already-encoded JSON-RPC result byte-for-byte instead of round
// tripping it through json.Unmarshal into an `any`. callAction prefers
// this path for JSON output: a decode into `any` turns every wire
// number into a float64, which silently loses precision past 2^53 — a
// real risk here since NodeInfo.Version and Uptime-style counters are
// uint64.
type RawFormatter interface {
	FormatRaw(w io.Writer, raw json.RawMessage) error
}

// FormatRaw re-indents an RPC result's raw JSON bytes without decoding
// them, preserving the original number literals and object key order.
func (f *JSONFormatter) FormatRaw(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		_, err := w.Write([]byte("null\n"))
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
