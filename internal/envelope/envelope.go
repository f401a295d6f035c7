package envelope

import (
	"bytes"
	"encoding/json"
	stdErrors "errors"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/schemabridge/pkg/errors"
)

const (
	snapshotTrue = "true"
	snapshotLast = "last"
)

var errNilMessage = stdErrors.New("nil message")

// Envelope is the typed view of the CDC wire format.
type Envelope struct {
	EventID          Text      `json:"event_id"`
	AggregateID      Text      `json:"aggregate_id"`
	AggregateType    Text      `json:"aggregate_type"`
	EventType        Text      `json:"event_type"`
	Payload          Text      `json:"payload"`
	UniqueIdentifier Text      `json:"unique_identifier"`
	CreatedAt        Timestamp `json:"created_at"`
	Op               Text      `json:"__op"`
	SourceName       Text      `json:"__source_name"`
	Deleted          Text      `json:"__deleted"`
	Source           *Source   `json:"source,omitempty"`
}

type Source struct {
	Snapshot Text `json:"snapshot"`
}

// Parse decodes a raw envelope. Payloads that arrive as a JSON string holding
// the envelope are unwrapped first.
func Parse(payload []byte) (*Envelope, error) {
	raw, err := unwrap(payload)
	if err != nil {
		return nil, errors.Wrap(errors.CodeMalformedEnvelope, err, "decode envelope")
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Wrap(errors.CodeMalformedEnvelope, err, "decode envelope")
	}
	return &env, nil
}

func unwrap(payload []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, stdErrors.New("empty payload")
	}
	if trimmed[0] != '"' {
		return trimmed, nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// IsSnapshot reports whether the envelope is an initial-load marker.
func (e *Envelope) IsSnapshot() bool {
	if e == nil || e.Source == nil {
		return false
	}
	v := strings.ToLower(e.Source.Snapshot.String())
	return v == snapshotTrue || v == snapshotLast
}

// IsLastSnapshot reports whether the envelope closes the initial load.
func (e *Envelope) IsLastSnapshot() bool {
	if e == nil || e.Source == nil {
		return false
	}
	return strings.EqualFold(e.Source.Snapshot.String(), snapshotLast)
}

// Fields parses the nested business payload.
func (e *Envelope) Fields() (Fields, error) {
	if e == nil || e.Payload.IsEmpty() {
		return Fields{}, stdErrors.New("nested payload is empty")
	}
	return ParseFields([]byte(e.Payload.String()))
}

// StampSource sets __source_name on a raw envelope when it is missing and
// returns the re-encoded payload. Payloads that already carry a source name
// are returned unchanged.
func StampSource(payload []byte, sourceName string) ([]byte, error) {
	raw, err := unwrap(payload)
	if err != nil {
		return nil, errors.Wrap(errors.CodeMalformedEnvelope, err, "decode envelope")
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(errors.CodeMalformedEnvelope, err, "decode envelope")
	}
	if existing, ok := doc["__source_name"]; ok {
		var t Text
		if err := json.Unmarshal(existing, &t); err == nil && !t.IsEmpty() {
			return raw, nil
		}
	}
	encoded, err := json.Marshal(sourceName)
	if err != nil {
		return nil, err
	}
	doc["__source_name"] = encoded
	return json.Marshal(doc)
}

// Text is a JSON scalar read as a string. Numbers keep their literal digits
// and are never rendered with an exponent. Objects and arrays keep their raw
// JSON text, which lets the nested payload arrive either string-encoded or
// inline.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
	case '{', '[':
		*t = Text(data)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*t = Text(strconv.FormatBool(b))
	default:
		s, err := formatNumber(string(data))
		if err != nil {
			return err
		}
		*t = Text(s)
	}
	return nil
}

func (t Text) String() string {
	return strings.TrimSpace(string(t))
}

func (t Text) IsEmpty() bool {
	return t.String() == ""
}

func formatNumber(literal string) (string, error) {
	if !strings.ContainsAny(literal, ".eE") {
		if _, err := strconv.ParseInt(literal, 10, 64); err == nil {
			return literal, nil
		}
	}
	f, _, err := big.ParseFloat(literal, 10, 256, big.ToNearestEven)
	if err != nil {
		return "", err
	}
	return f.Text('f', -1), nil
}

// Timestamp accepts epoch milliseconds (number or numeric string) or an
// ISO-8601 string. Unparsable values decode to the zero time.
type Timestamp struct {
	time.Time
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var t Text
	if err := t.UnmarshalJSON(data); err != nil {
		ts.Time = time.Time{}
		return nil
	}
	ts.Time = parseTimestamp(t.String())
	return nil
}

func parseTimestamp(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"} {
		if parsed, err := time.Parse(layout, v); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}
