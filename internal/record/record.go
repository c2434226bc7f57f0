// Package record normalizes raw sensor payloads into the canonical
// four-column reading written by the sinks.
//
// Two payload shapes are accepted: a JSON object whose fields are looked up
// through alias lists, and comma-delimited text mapped positionally. Anything
// else is rejected with a *RejectError that carries the original payload.
// Normalization does no I/O and holds no state beyond its clock.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// TimestampLayout is the local wall-clock format used when a payload carries
// no timestamp of its own.
const TimestampLayout = "2006-01-02T15:04:05"

// Columns is the fixed column order of every persisted row.
var Columns = []string{"sensor_id", "humidity", "nutrient", "timestamp"}

// Field aliases, in lookup order.
var (
	sensorIDAliases  = []string{"sensor_id", "id", "device"}
	humidityAliases  = []string{"umidade", "humidity"}
	nutrientAliases  = []string{"nutriente", "nutrient"}
	timestampAliases = []string{"ts", "timestamp"}
)

// minFields is the minimum number of comma-separated fields for the
// positional fallback.
const minFields = 3

var (
	// ErrDecode indicates the payload is not valid UTF-8 text.
	ErrDecode = errors.New("payload is not valid utf-8")
	// ErrParse indicates the payload matched neither the JSON nor the
	// comma-delimited shape.
	ErrParse = errors.New("payload matches no known shape")
)

// RejectError is returned for payloads that cannot be normalized.
// Payload is the original input, kept for logging.
type RejectError struct {
	Payload []byte
	Err     error
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("rejected payload (%d bytes): %v", len(e.Payload), e.Err)
}

func (e *RejectError) Unwrap() error { return e.Err }

// Reason returns a short label for metrics: "decode" or "parse".
func (e *RejectError) Reason() string {
	if errors.Is(e.Err, ErrDecode) {
		return "decode"
	}
	return "parse"
}

// Record is a normalized sensor reading. All four fields are always present;
// an empty string means the value was not supplied.
type Record struct {
	SensorID  string
	Humidity  string
	Nutrient  string
	Timestamp string
}

// Fields returns the record values in Columns order.
func (r Record) Fields() []string {
	return []string{r.SensorID, r.Humidity, r.Nutrient, r.Timestamp}
}

// FromFields builds a Record from values in Columns order. Missing trailing
// values are left empty.
func FromFields(fields []string) Record {
	get := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	return Record{SensorID: get(0), Humidity: get(1), Nutrient: get(2), Timestamp: get(3)}
}

// Normalizer converts raw payloads into Records.
type Normalizer struct {
	// Now supplies the fallback timestamp. Defaults to time.Now.
	Now func() time.Time
}

// NewNormalizer returns a Normalizer using the wall clock.
func NewNormalizer() *Normalizer {
	return &Normalizer{Now: time.Now}
}

// Normalize converts raw into a Record using n's clock.
func (n *Normalizer) Normalize(raw []byte) (Record, error) {
	now := time.Now
	if n != nil && n.Now != nil {
		now = n.Now
	}
	return Normalize(raw, now())
}

// Normalize converts raw into a Record. now is used as the timestamp when the
// payload carries none. The error, if any, is always a *RejectError.
func Normalize(raw []byte, now time.Time) (Record, error) {
	if !utf8.Valid(raw) {
		return Record{}, &RejectError{Payload: raw, Err: ErrDecode}
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return Record{}, &RejectError{Payload: raw, Err: ErrParse}
	}

	if obj, ok := decodeObject(text); ok {
		return fromObject(obj, now), nil
	}

	if rec, ok := fromDelimited(text, now); ok {
		return rec, nil
	}
	return Record{}, &RejectError{Payload: raw, Err: ErrParse}
}

// decodeObject parses text as a JSON object. Arrays, scalars and invalid
// JSON report ok=false so the caller can try the delimited shape.
func decodeObject(text string) (map[string]any, bool) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	// Trailing data after the object means this was not a single document.
	if dec.More() {
		return nil, false
	}
	return obj, true
}

func fromObject(obj map[string]any, now time.Time) Record {
	rec := Record{
		SensorID:  lookup(obj, sensorIDAliases),
		Humidity:  lookup(obj, humidityAliases),
		Nutrient:  lookup(obj, nutrientAliases),
		Timestamp: lookup(obj, timestampAliases),
	}
	if rec.Timestamp == "" {
		rec.Timestamp = now.Format(TimestampLayout)
	}
	return rec
}

// lookup returns the first alias with a usable scalar value.
func lookup(obj map[string]any, aliases []string) string {
	for _, key := range aliases {
		v, ok := obj[key]
		if !ok {
			continue
		}
		if s, ok := scalarString(v); ok && s != "" {
			return s
		}
	}
	return ""
}

// scalarString renders a decoded JSON scalar. Numbers keep their original
// text so values are stored as received.
func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), true
	case json.Number:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return "", false
	}
}

func fromDelimited(text string, now time.Time) (Record, bool) {
	parts := strings.Split(text, ",")
	if len(parts) < minFields {
		return Record{}, false
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	rec := Record{SensorID: parts[0], Humidity: parts[1], Nutrient: parts[2]}
	if len(parts) > minFields && parts[3] != "" {
		rec.Timestamp = parts[3]
	} else {
		rec.Timestamp = now.Format(TimestampLayout)
	}
	return rec, true
}

// looksLikeJSON reports whether text starts like a JSON document. Used only
// for log context.
func looksLikeJSON(text []byte) bool {
	t := bytes.TrimSpace(text)
	return len(t) > 0 && (t[0] == '{' || t[0] == '[')
}

// Shape returns "json", "delimited" or "unknown" for log context.
func Shape(raw []byte) string {
	switch {
	case looksLikeJSON(raw):
		return "json"
	case bytes.Contains(raw, []byte{','}):
		return "delimited"
	default:
		return "unknown"
	}
}
