package tagset

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/riftline/profileagent/model"
)

func TestEncode_NoTags(t *testing.T) {
	assert.Equal(t, "app", Encode("app", model.NewTagSet()))
}

func TestEncode_SortsKeys(t *testing.T) {
	tags := model.NewTagSet(model.TagPair{Key: "region", Value: "us-east"}, model.TagPair{Key: "env", Value: "prod"})

	assert.Equal(t, "app{env=prod,region=us-east}", Encode("app", tags))
}
