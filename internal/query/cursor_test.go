package query

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_RoundTrip(t *testing.T) {
	orderKey := OrderKeySignature([]SortField{
		{Field: "published_at", Desc: true},
		{Field: "id", Desc: true},
	})
	token := EncodeCursor("articles", orderKey, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), int64(42))
	require.NotEmpty(t, token)

	source, key, values, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, "articles", source)
	assert.Equal(t, "published_at desc,id desc", key)
	require.Len(t, values, 2)
	assert.Equal(t, "2024-03-01T12:00:00Z", values[0])
	assert.Equal(t, "42", values[1])
}

func TestDecodeCursor_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not base64", "%%%not-base64%%%"},
		{"not json", base64.StdEncoding.EncodeToString([]byte("plain text"))},
		{"wrong version", base64.StdEncoding.EncodeToString([]byte(`{"v":99,"s":"articles","k":"id asc","vals":["1"]}`))},
		{"missing source", base64.StdEncoding.EncodeToString([]byte(`{"v":1,"s":"","k":"id asc","vals":["1"]}`))},
		{"missing order key", base64.StdEncoding.EncodeToString([]byte(`{"v":1,"s":"articles","k":"","vals":["1"]}`))},
		{"no values", base64.StdEncoding.EncodeToString([]byte(`{"v":1,"s":"articles","k":"id asc","vals":[]}`))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := DecodeCursor(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestValidateCursor(t *testing.T) {
	err := ValidateCursor("articles", "id asc", "articles", "id asc")
	assert.NoError(t, err)

	err = ValidateCursor("articles", "id asc", "authors", "id asc")
	assert.ErrorContains(t, err, "source mismatch")

	err = ValidateCursor("articles", "id asc", "articles", "title asc")
	assert.ErrorContains(t, err, "ordering mismatch")
}

func TestOrderKeySignature(t *testing.T) {
	assert.Equal(t, "", OrderKeySignature(nil))
	assert.Equal(t, "id asc", OrderKeySignature([]SortField{{Field: "id"}}))
	assert.Equal(t, "views desc,id asc", OrderKeySignature([]SortField{
		{Field: "views", Desc: true},
		{Field: "id"},
	}))
}

func TestCoerceToString(t *testing.T) {
	assert.Equal(t, "", coerceToString(nil))
	assert.Equal(t, "abc", coerceToString("abc"))
	assert.Equal(t, "abc", coerceToString([]byte("abc")))
	assert.Equal(t, "7", coerceToString(7))
	assert.Equal(t, "7", coerceToString(int64(7)))
	assert.Equal(t, "18446744073709551615", coerceToString(uint64(18446744073709551615)))
	assert.Equal(t, "1.5", coerceToString(1.5))
	assert.Equal(t, "true", coerceToString(true))
}
