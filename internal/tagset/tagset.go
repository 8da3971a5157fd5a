// Package tagset encodes an application name and its tag set into the
// ingest endpoint's name query parameter: app{k1=v1,k2=v2}, keys sorted
// lexically for a deterministic wire form.
package tagset

import (
	"strings"

	"github.com/riftline/profileagent/model"
)

// Encode renders applicationName and tags as "name{k=v,...}". An empty tag
// set renders as a bare application name with no braces, matching how a
// spy with no dynamic tags reports.
func Encode(applicationName string, tags model.TagSet) string {
	pairs := tags.Sorted()
	if len(pairs) == 0 {
		return applicationName
	}
	var b strings.Builder
	b.WriteString(applicationName)
	b.WriteByte('{')
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	b.WriteByte('}')
	return b.String()
}
