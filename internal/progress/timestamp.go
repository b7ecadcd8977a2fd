package progress

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// millisecond epoch values start around 2001-09-09 in this scale
const epochMillisCutoff = 1e12

// Timestamp accepts the loose passedAt encodings clients actually send:
// RFC 3339 strings, date-only strings, or numeric epoch values in seconds or
// milliseconds. It always renders back as RFC 3339 UTC.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`null`), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		t.Time = time.Time{}
		return nil
	}

	if strings.HasPrefix(raw, `"`) {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		return t.parseString(value)
	}

	epoch, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s", raw)
	}
	if epoch >= epochMillisCutoff {
		t.Time = time.UnixMilli(int64(epoch)).UTC()
	} else {
		t.Time = time.Unix(int64(epoch), 0).UTC()
	}

	return nil
}

func (t *Timestamp) parseString(value string) error {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}

	return fmt.Errorf("invalid timestamp %q", value)
}
