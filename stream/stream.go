// Package stream implements the SSE wire writer (§4.5, §6 "SSE wire
// format"): two-line records terminated by a blank line, with cycle-safe
// JSON serialization so a duplicate object reference never hangs the
// encoder. Write-failure detection is surfaced so the run supervisor can
// react to a disconnected consumer.
package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
)

// Writer renders events onto an underlying io.Writer (typically an
// http.ResponseWriter wrapped for flushing by the transport shell) as SSE
// records.
type Writer struct {
	w       *bufio.Writer
	flush   func()
	written bool
}

// New builds a Writer around w. flush, if non-nil, is called after every
// record so the consumer observes it immediately (the transport shell
// supplies this from http.Flusher).
func New(w io.Writer, flush func()) *Writer {
	return &Writer{w: bufio.NewWriter(w), flush: flush}
}

// Record writes one SSE record: `event: <eventType>\ndata: <json>\n\n`.
// Returns an error (without panicking) if the underlying writer fails,
// which the driver loop treats as a consumer disconnect (§4.5).
func (sw *Writer) Record(eventType string, payload any) error {
	data, err := MarshalCycleSafe(payload)
	if err != nil {
		return fmt.Errorf("stream: marshal %s payload: %w", eventType, err)
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return fmt.Errorf("stream: write %s record: %w", eventType, err)
	}
	sw.written = true
	if err := sw.w.Flush(); err != nil {
		return fmt.Errorf("stream: flush %s record: %w", eventType, err)
	}
	if sw.flush != nil {
		sw.flush()
	}
	return nil
}

// Wrote reports whether at least one record has been successfully written.
func (sw *Writer) Wrote() bool { return sw.written }

// MarshalCycleSafe marshals v to JSON, substituting null for any object
// reference already visited earlier in the same encode (§4.5, §9 "Cycle-safe
// JSON": a visited-set mechanism during serialization). encoding/json itself
// has no cycle protection for non-pointer self-referential structures built
// through interfaces (e.g. a graph.State fed back into its own node result's
// Metadata); this guards the serializer the driver uses for every outbound
// record.
func MarshalCycleSafe(v any) ([]byte, error) {
	seen := map[uintptr]bool{}
	sanitized := sanitize(reflect.ValueOf(v), seen)
	return json.Marshal(sanitized)
}

// sanitize walks v, replacing any pointer/map/slice value already present in
// seen with nil, and otherwise returning an equivalent plain value that
// encoding/json can always terminate on.
func sanitize(v reflect.Value, seen map[uintptr]bool) any {
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return sanitize(v.Elem(), seen)
	case reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return nil
		}
		seen[ptr] = true
		return sanitize(v.Elem(), seen)
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return nil
		}
		seen[ptr] = true
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = sanitize(iter.Value(), seen)
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Len() > 0 {
			ptr := v.Pointer()
			if seen[ptr] {
				return nil
			}
			seen[ptr] = true
		}
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = sanitize(v.Index(i), seen)
		}
		return out
	case reflect.Struct:
		return structToMap(v, seen)
	default:
		if v.CanInterface() {
			return v.Interface()
		}
		return nil
	}
}

// structToMap renders a struct's exported fields into a map so they survive
// sanitize's cycle-breaking the same way map/slice fields do. Field order is
// not significant for the wire format: consumers decode JSON objects, not
// positional arrays.
func structToMap(v reflect.Value, seen map[uintptr]bool) any {
	t := v.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			if tag == "-" {
				continue
			}
			if comma := indexComma(tag); comma >= 0 {
				if tag[:comma] != "" {
					name = tag[:comma]
				}
			} else if tag != "" {
				name = tag
			}
		}
		out[name] = sanitize(v.Field(i), seen)
	}
	return out
}

func indexComma(s string) int {
	for i, r := range s {
		if r == ',' {
			return i
		}
	}
	return -1
}
