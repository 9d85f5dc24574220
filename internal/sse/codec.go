// Package sse implements an incremental server-sent-events codec tolerant of
// arbitrary chunk boundaries.
package sse

import (
	"bytes"
	"strings"

	"github.com/sirupsen/logrus"
)

// DoneSentinel is the stream termination token used by chat-completions
// style upstreams.
const DoneSentinel = "[DONE]"

// Record is one decoded SSE record: an optional event name plus the joined
// data payload.
type Record struct {
	Event string
	Data  string
}

// IsDone reports whether the record is the [DONE] termination sentinel.
func (r Record) IsDone() bool {
	return strings.TrimSpace(r.Data) == DoneSentinel
}

// Decoder reassembles SSE records from a raw byte stream. Records split or
// merged across Decode calls are buffered until the blank-line terminator
// arrives, so the decoded sequence is independent of chunk boundaries.
type Decoder struct {
	buf bytes.Buffer
}

// NewDecoder creates a new incremental decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode consumes one raw chunk and returns all records completed by it.
// Incomplete trailing bytes stay buffered for the next call.
func (d *Decoder) Decode(chunk []byte) []Record {
	d.buf.Write(chunk)

	var records []Record
	for {
		raw := d.buf.Bytes()
		end, skip := findRecordEnd(raw)
		if end < 0 {
			break
		}
		block := string(raw[:end])
		d.buf.Next(end + skip)

		if rec, ok := parseRecord(block); ok {
			records = append(records, rec)
		}
	}
	return records
}

// Flush returns the record assembled from any buffered trailing bytes, for
// streams that end without a final blank line. The buffer is reset.
func (d *Decoder) Flush() (Record, bool) {
	block := d.buf.String()
	d.buf.Reset()
	if strings.TrimSpace(block) == "" {
		return Record{}, false
	}
	return parseRecord(block)
}

// Buffered reports how many bytes are awaiting a record terminator.
func (d *Decoder) Buffered() int {
	return d.buf.Len()
}

// findRecordEnd locates the first blank-line record terminator, handling
// both \n\n and \r\n\r\n forms. It returns the end offset of the record and
// the terminator width, or (-1, 0) when no complete record is buffered.
func findRecordEnd(raw []byte) (end, skip int) {
	lf := bytes.Index(raw, []byte("\n\n"))
	crlf := bytes.Index(raw, []byte("\r\n\r\n"))
	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf, 4
	default:
		return lf, 2
	}
}

// parseRecord splits one record block into its event name and data payload.
// Multiple data: lines are joined with newlines per the SSE specification.
// Comment lines (leading colon) and unknown fields are ignored. A block with
// no data field yields no record and is logged at debug level.
func parseRecord(block string) (Record, bool) {
	var rec Record
	var dataParts []string

	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "data:"):
			dataParts = append(dataParts, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "event:"):
			rec.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, ":"):
			// comment, keep-alive ping
		}
	}

	if len(dataParts) == 0 {
		if trimmed := strings.TrimSpace(block); trimmed != "" {
			logrus.WithField("block", truncate(trimmed, 120)).Debug("Skipping SSE record without data field")
		}
		return Record{}, false
	}
	rec.Data = strings.Join(dataParts, "\n")
	return rec, true
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// EncodeEvent serializes a named SSE event with a data payload.
func EncodeEvent(event string, data []byte) []byte {
	var b bytes.Buffer
	b.Grow(len(event) + len(data) + 16)
	b.WriteString("event: ")
	b.WriteString(event)
	b.WriteString("\ndata: ")
	b.Write(data)
	b.WriteString("\n\n")
	return b.Bytes()
}

// EncodeData serializes a bare data-only SSE record.
func EncodeData(data []byte) []byte {
	var b bytes.Buffer
	b.Grow(len(data) + 10)
	b.WriteString("data: ")
	b.Write(data)
	b.WriteString("\n\n")
	return b.Bytes()
}

// EncodeDone serializes the [DONE] termination sentinel.
func EncodeDone() []byte {
	return []byte("data: " + DoneSentinel + "\n\n")
}
