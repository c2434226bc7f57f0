package record

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.Local)

const fixedTS = "2025-03-14T09:26:53"

func TestNormalizeJSON(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Record
	}{
		{
			name:    "sensor_id humidity and ts",
			payload: `{"sensor_id":"s1","humidity":25.5,"ts":"2024-01-01T00:00:00"}`,
			want:    Record{SensorID: "s1", Humidity: "25.5", Nutrient: "", Timestamp: "2024-01-01T00:00:00"},
		},
		{
			name:    "portuguese field names",
			payload: `{"sensor_id":"sim-01","umidade":41.27,"nutriente":9.8,"ts":"2024-05-02T10:00:00"}`,
			want:    Record{SensorID: "sim-01", Humidity: "41.27", Nutrient: "9.8", Timestamp: "2024-05-02T10:00:00"},
		},
		{
			name:    "id alias and timestamp alias",
			payload: `{"id":"dev-7","nutrient":12,"timestamp":"2024-06-01T12:00:00"}`,
			want:    Record{SensorID: "dev-7", Humidity: "", Nutrient: "12", Timestamp: "2024-06-01T12:00:00"},
		},
		{
			name:    "device alias and synthesized timestamp",
			payload: `{"device":"esp32-a","humidity":"33"}`,
			want:    Record{SensorID: "esp32-a", Humidity: "33", Timestamp: fixedTS},
		},
		{
			name:    "umidade preferred over humidity",
			payload: `{"sensor_id":"s","umidade":10,"humidity":20}`,
			want:    Record{SensorID: "s", Humidity: "10", Timestamp: fixedTS},
		},
		{
			name:    "empty primary alias falls through",
			payload: `{"sensor_id":"","id":"fallback","humidity":1}`,
			want:    Record{SensorID: "fallback", Humidity: "1", Timestamp: fixedTS},
		},
		{
			name:    "null and nested values are missing",
			payload: `{"sensor_id":null,"device":"d1","humidity":{"v":1},"nutrient":[1,2]}`,
			want:    Record{SensorID: "d1", Timestamp: fixedTS},
		},
		{
			name:    "zero is a value",
			payload: `{"sensor_id":"s0","humidity":0}`,
			want:    Record{SensorID: "s0", Humidity: "0", Timestamp: fixedTS},
		},
		{
			name:    "numeric text preserved",
			payload: `{"sensor_id":42,"humidity":1.50e1}`,
			want:    Record{SensorID: "42", Humidity: "1.50e1", Timestamp: fixedTS},
		},
		{
			name:    "no known fields",
			payload: `{"foo":"bar"}`,
			want:    Record{Timestamp: fixedTS},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize([]byte(tt.payload), fixedNow)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNormalizeDelimited(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Record
	}{
		{
			name:    "three fields",
			payload: "s2,33.1,9.4",
			want:    Record{SensorID: "s2", Humidity: "33.1", Nutrient: "9.4", Timestamp: fixedTS},
		},
		{
			name:    "four fields with whitespace",
			payload: "  s3 , 40 ,  11.2 , 2024-02-02T02:02:02 \n",
			want:    Record{SensorID: "s3", Humidity: "40", Nutrient: "11.2", Timestamp: "2024-02-02T02:02:02"},
		},
		{
			name:    "extra fields ignored",
			payload: "s4,1,2,2024-01-01T00:00:00,extra,more",
			want:    Record{SensorID: "s4", Humidity: "1", Nutrient: "2", Timestamp: "2024-01-01T00:00:00"},
		},
		{
			name:    "empty fourth field synthesizes timestamp",
			payload: "s5,1,2,",
			want:    Record{SensorID: "s5", Humidity: "1", Nutrient: "2", Timestamp: fixedTS},
		},
		{
			name:    "empty positional values kept empty",
			payload: ",,",
			want:    Record{Timestamp: fixedTS},
		},
		{
			name:    "json array falls back to positional",
			payload: `["a","b","c"]`,
			want:    Record{SensorID: `["a"`, Humidity: `"b"`, Nutrient: `"c"]`, Timestamp: fixedTS},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize([]byte(tt.payload), fixedNow)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    error
		reason  string
	}{
		{"garbage", []byte("garbage"), ErrParse, "parse"},
		{"two fields", []byte("s1,20"), ErrParse, "parse"},
		{"empty", []byte(""), ErrParse, "parse"},
		{"whitespace", []byte("  \n\t"), ErrParse, "parse"},
		{"broken json without commas", []byte(`{"sensor_id"`), ErrParse, "parse"},
		{"invalid utf8", []byte{0xff, 0xfe, ',', 'a', ',', 'b'}, ErrDecode, "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.payload, fixedNow)
			if err == nil {
				t.Fatal("expected rejection")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			var rej *RejectError
			if !errors.As(err, &rej) {
				t.Fatalf("expected *RejectError, got %T", err)
			}
			if string(rej.Payload) != string(tt.payload) {
				t.Errorf("payload not preserved: %q", rej.Payload)
			}
			if rej.Reason() != tt.reason {
				t.Errorf("reason: expected %q, got %q", tt.reason, rej.Reason())
			}
		})
	}
}

func TestNormalizeBrokenJSONWithCommasFallsBack(t *testing.T) {
	// Not valid JSON, but three comma fields: positional mapping applies.
	got, err := Normalize([]byte(`{"sensor_id":"s1","humidity":2,`), fixedNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.SensorID != `{"sensor_id":"s1"` {
		t.Errorf("unexpected sensor id %q", got.SensorID)
	}
}

func TestNormalizerClock(t *testing.T) {
	n := &Normalizer{Now: func() time.Time { return fixedNow }}
	got, err := n.Normalize([]byte("a,b,c"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Timestamp != fixedTS {
		t.Errorf("expected %s, got %s", fixedTS, got.Timestamp)
	}
}

func TestNormalizerDefaultClock(t *testing.T) {
	got, err := NewNormalizer().Normalize([]byte(`{"sensor_id":"x"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := time.ParseInLocation(TimestampLayout, got.Timestamp, time.Local); err != nil {
		t.Errorf("synthesized timestamp %q not in layout: %v", got.Timestamp, err)
	}
}

func TestRecordFieldsOrder(t *testing.T) {
	r := Record{SensorID: "a", Humidity: "b", Nutrient: "c", Timestamp: "d"}
	if got := strings.Join(r.Fields(), ","); got != "a,b,c,d" {
		t.Errorf("unexpected field order %q", got)
	}
	if len(Columns) != len(r.Fields()) {
		t.Fatalf("columns and fields disagree: %d vs %d", len(Columns), len(r.Fields()))
	}
	if FromFields(r.Fields()) != r {
		t.Error("FromFields(Fields()) should reproduce the record")
	}
	if got := FromFields([]string{"only"}); got != (Record{SensorID: "only"}) {
		t.Errorf("short input: got %+v", got)
	}
}

func TestShape(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`: "json",
		` [1]`:    "json",
		"a,b":     "delimited",
		"plain":   "unknown",
	}
	for in, want := range tests {
		if got := Shape([]byte(in)); got != want {
			t.Errorf("Shape(%q) = %q, want %q", in, got, want)
		}
	}
}
