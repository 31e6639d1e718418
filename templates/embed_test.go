package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTemplates(t *testing.T) {
	tmpl, err := LoadTemplates()
	require.NoError(t, err)
	assert.NotNil(t, tmpl.Lookup("setup.html"))
}

func TestUnit(t *testing.T) {
	assert.Equal(t, "Hz", unit("frequency"))
	assert.Equal(t, "dBm", unit("power"))
	assert.Equal(t, "s", unit("time"))
	assert.Empty(t, unit("number"))
}
