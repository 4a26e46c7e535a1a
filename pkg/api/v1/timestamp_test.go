package v1

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{in: "2024-05-01T10:00:00", want: want},
		{in: "2024-05-01T10:00:00Z", want: want},
		{in: "2024-05-01T12:00:00+02:00", want: want},
		{in: "2024-05-01 10:00:00", want: want},
		{in: "2024-05-01T10:00:00.250000", want: want.Add(250 * time.Millisecond)},
		{in: "2024-05-01", want: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ts, err := ParseTimestamp(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(ts.Time), "got %s", ts.Time)
		})
	}

	_, err := ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestTimestampJSON(t *testing.T) {
	var v struct {
		At  Timestamp  `json:"at"`
		Opt *Timestamp `json:"opt"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"at":"2024-05-01T10:00:00","opt":null}`), &v))
	assert.Equal(t, 10, v.At.Hour())
	assert.Nil(t, v.Opt)

	out, err := json.Marshal(v.At)
	require.NoError(t, err)
	assert.Equal(t, `"2024-05-01T10:00:00Z"`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"at":12}`), &v))
}
