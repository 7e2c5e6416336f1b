package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColorForIsStable(t *testing.T) {
	assert.Equal(t, ColorFor("alice"), ColorFor("alice"))
}

func TestColorForUsesPalette(t *testing.T) {
	for _, name := range []string{"", "alice", "bob", "日本語ユーザー"} {
		assert.Contains(t, palette, ColorFor(name))
	}
}
