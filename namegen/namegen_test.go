package namegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	id := New()
	assert.NotEmpty(t, id.String())
	assert.Equal(t, string(id), id.String())
}
