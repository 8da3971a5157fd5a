package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStackTrace_Folded_OutermostFirst(t *testing.T) {
	trace := StackTrace{
		Frames: []StackFrame{
			{FunctionName: "main"},
			{FunctionName: "handleRequest"},
			{FunctionName: "doWork"},
		},
	}

	assert.Equal(t, "main;handleRequest;doWork", trace.Folded())
}

func TestStackTrace_Folded_UnnamedFrameFallsBackToQuestionMark(t *testing.T) {
	trace := StackTrace{
		Frames: []StackFrame{
			{FunctionName: "main"},
			{},
		},
	}

	assert.Equal(t, "main;?", trace.Folded())
}

func TestReportMetadata_Equal(t *testing.T) {
	a := ReportMetadata{ApplicationName: "app", SpyName: "gospy", SampleRate: 100, Tags: NewTagSet(TagPair{Key: "env", Value: "prod"})}
	b := ReportMetadata{ApplicationName: "app", SpyName: "gospy", SampleRate: 100, Tags: NewTagSet(TagPair{Key: "env", Value: "prod"})}
	c := ReportMetadata{ApplicationName: "app", SpyName: "gospy", SampleRate: 50, Tags: NewTagSet(TagPair{Key: "env", Value: "prod"})}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
