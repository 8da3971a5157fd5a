package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftline/profileagent/model"
)

func metadata() model.ReportMetadata {
	return model.ReportMetadata{ApplicationName: "app", SpyName: "gospy", SampleRate: 100}
}

func TestReport_RecordAccumulatesCounts(t *testing.T) {
	r := New(metadata())
	trace := model.StackTrace{Frames: []model.StackFrame{{FunctionName: "main"}, {FunctionName: "work"}}}

	r.Record(trace)
	r.Record(trace)

	assert.Equal(t, 1, r.Len())
	folded, err := r.SerializeFolded()
	require.NoError(t, err)
	assert.Equal(t, "main;work 2\n", string(folded))
}

func TestReport_Merge_RequiresMatchingMetadata(t *testing.T) {
	a := New(metadata())
	b := New(model.ReportMetadata{ApplicationName: "other"})

	err := a.Merge(b)

	assert.Error(t, err)
}

func TestReport_Merge_SumsCounts(t *testing.T) {
	a := New(metadata())
	b := New(metadata())
	a.RecordFolded("main;work", 3)
	b.RecordFolded("main;work", 4)
	b.RecordFolded("main;other", 1)

	require.NoError(t, a.Merge(b))

	assert.Equal(t, 2, a.Len())
	data, err := a.SerializeFolded()
	require.NoError(t, err)
	assert.Contains(t, string(data), "main;work 7\n")
	assert.Contains(t, string(data), "main;other 1\n")
}

func TestReport_Clear(t *testing.T) {
	r := New(metadata())
	r.RecordFolded("main", 1)
	require.False(t, r.Empty())

	r.Clear()

	assert.True(t, r.Empty())
	assert.Equal(t, 0, r.Len())
}

func TestReport_RecordFolded_IgnoresNonPositiveDelta(t *testing.T) {
	r := New(metadata())
	r.RecordFolded("main", 0)
	r.RecordFolded("main", -1)

	assert.True(t, r.Empty())
}

func TestParseFolded_RoundTrips(t *testing.T) {
	r := New(metadata())
	r.RecordFolded("main;a;b", 5)
	r.RecordFolded("main;c", 2)

	data, err := r.SerializeFolded()
	require.NoError(t, err)

	parsed, err := ParseFolded(data)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"main;a;b": 5, "main;c": 2}, parsed)
}

func TestParseFolded_RejectsMalformedLine(t *testing.T) {
	_, err := ParseFolded([]byte("no-count-here\n"))
	assert.Error(t, err)
}

func TestSerialize_DispatchesOnEncoding(t *testing.T) {
	r := New(metadata())
	r.RecordFolded("main;a", 1)

	folded, err := r.Serialize(Folded)
	require.NoError(t, err)
	assert.Equal(t, "main;a 1\n", string(folded))

	pprofBytes, err := r.Serialize(Pprof)
	require.NoError(t, err)
	assert.NotEmpty(t, pprofBytes)
}
