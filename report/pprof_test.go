package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializePprof_RoundTripsThroughParsePprof(t *testing.T) {
	r := New(metadata())
	r.RecordFolded("main;handleRequest;doWork", 7)
	r.RecordFolded("main;handleRequest;otherWork", 3)

	data, err := r.SerializePprof()
	require.NoError(t, err)
	require.NotEmpty(t, data)

	parsed, err := ParsePprof(data)
	require.NoError(t, err)
	assert.Equal(t, int64(7), parsed["main;handleRequest;doWork"])
	assert.Equal(t, int64(3), parsed["main;handleRequest;otherWork"])
}

func TestSerializePprof_EmptyReport(t *testing.T) {
	r := New(metadata())

	data, err := r.SerializePprof()
	require.NoError(t, err)

	parsed, err := ParsePprof(data)
	require.NoError(t, err)
	assert.Empty(t, parsed)
}
