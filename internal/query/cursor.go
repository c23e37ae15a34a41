package query

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"content-query/internal/qerr"
)

// cursorPayload is the JSON body of an opaque pagination cursor. Values are
// string-coerced for JSON safety (avoids float64 precision loss on large
// integer keys).
type cursorPayload struct {
	Version  int      `json:"v"`
	Source   string   `json:"s"`
	OrderKey string   `json:"k"`
	Values   []string `json:"vals"`
}

const cursorVersion = 1

// EncodeCursor builds an opaque resume token from the source, the ordering
// key signature (e.g. "published_at desc,id desc"), and the last-seen
// ordering values.
func EncodeCursor(source, orderKey string, values ...any) string {
	stringValues := make([]string, 0, len(values))
	for _, v := range values {
		stringValues = append(stringValues, coerceToString(v))
	}
	payload := cursorPayload{
		Version:  cursorVersion,
		Source:   source,
		OrderKey: orderKey,
		Values:   stringValues,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeCursor parses a cursor produced by EncodeCursor. Malformed input
// fails with a ValidationError, never a panic.
func DecodeCursor(raw string) (source, orderKey string, values []string, err error) {
	data, decErr := base64.StdEncoding.DecodeString(raw)
	if decErr != nil {
		return "", "", nil, qerr.NewValidation("cursor", "invalid cursor encoding")
	}
	var payload cursorPayload
	if jsonErr := json.Unmarshal(data, &payload); jsonErr != nil {
		return "", "", nil, qerr.NewValidation("cursor", "invalid cursor format")
	}
	if payload.Version != cursorVersion {
		return "", "", nil, qerr.NewValidation("cursor", "unsupported cursor version")
	}
	if payload.Source == "" || payload.OrderKey == "" {
		return "", "", nil, qerr.NewValidation("cursor", "cursor is missing ordering context")
	}
	if len(payload.Values) == 0 {
		return "", "", nil, qerr.NewValidation("cursor", "cursor has no resume values")
	}
	return payload.Source, payload.OrderKey, payload.Values, nil
}

// ValidateCursor confirms a decoded cursor matches the query it resumes.
func ValidateCursor(expectedSource, expectedOrderKey, source, orderKey string) error {
	if source != expectedSource {
		return qerr.NewValidation("cursor", "cursor source mismatch: expected %s, got %s", expectedSource, source)
	}
	if orderKey != expectedOrderKey {
		return qerr.NewValidation("cursor", "cursor ordering mismatch: the sort changed since this cursor was issued")
	}
	return nil
}

// OrderKeySignature builds the ordering signature encoded into cursors.
func OrderKeySignature(sort []SortField) string {
	parts := make([]string, 0, len(sort))
	for _, s := range sort {
		dir := "asc"
		if s.Desc {
			dir = "desc"
		}
		parts = append(parts, s.Field+" "+dir)
	}
	return strings.Join(parts, ",")
}

func coerceToString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
