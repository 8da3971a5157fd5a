package profileagent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/riftline/profileagent/model"
)

func TestConfig_Validate_RequiresApplicationName(t *testing.T) {
	cfg := defaultConfig("http://localhost:4040", "")
	err := cfg.validate()

	assert.Error(t, err)
	var invalidConfig *InvalidConfigError
	assert.ErrorAs(t, err, &invalidConfig)
}

func TestConfig_Validate_RequiresAbsoluteServerURL(t *testing.T) {
	cfg := defaultConfig("not-a-url", "app")
	err := cfg.validate()

	assert.Error(t, err)
}

func TestConfig_Validate_RequiresPositiveSampleRate(t *testing.T) {
	cfg := defaultConfig("http://localhost:4040", "app")
	cfg.SampleRate = 0

	assert.Error(t, cfg.validate())
}

func TestConfig_Validate_CycleSecondsMustDivideSixty(t *testing.T) {
	cfg := defaultConfig("http://localhost:4040", "app")
	cfg.CycleSeconds = 7

	assert.Error(t, cfg.validate())
}

func TestConfig_Validate_RejectsReservedTagKeys(t *testing.T) {
	cfg := defaultConfig("http://localhost:4040", "app")
	cfg.Tags = model.NewTagSet(model.TagPair{Key: "__name__", Value: "x"})

	assert.Error(t, cfg.validate())
}

func TestConfig_Validate_AcceptsWellFormedConfig(t *testing.T) {
	cfg := defaultConfig("http://localhost:4040", "app")

	assert.NoError(t, cfg.validate())
}

func TestValidateTagKey(t *testing.T) {
	cases := []struct {
		key     string
		wantErr bool
	}{
		{"env", false},
		{"", true},
		{"__name__", true},
		{"__reserved__", true},
		{"__partial", false},
	}
	for _, c := range cases {
		err := validateTagKey(c.key)
		if c.wantErr {
			assert.Error(t, err, c.key)
		} else {
			assert.NoError(t, err, c.key)
		}
	}
}
