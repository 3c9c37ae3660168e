package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoStringIncludesRevisionAndTime(t *testing.T) {
	info := Info{Module: "github.com/doismellburning/athernet", Revision: "abc123", Time: "2026-01-01T00:00:00Z"}
	s := info.String()
	assert.True(t, strings.Contains(s, "abc123"))
	assert.True(t, strings.Contains(s, "2026-01-01T00:00:00Z"))
}

func TestInfoStringMarksDirtyBuild(t *testing.T) {
	info := Info{Module: "m", Revision: "abc", Dirty: true}
	assert.True(t, strings.Contains(info.String(), "abc-dirty"))
}

func TestReadReturnsBuildInfoForTestBinary(t *testing.T) {
	_, ok := Read()
	assert.True(t, ok)
}
