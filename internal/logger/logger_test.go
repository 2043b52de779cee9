package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamedEntryCarriesAttributes(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	SetLevel("info")

	Named("batch").With("template", "btc_conviction").Infof("ran %d instances", 3)

	out := buf.String()
	assert.Contains(t, out, "component=batch")
	assert.Contains(t, out, "template=btc_conviction")
	assert.Contains(t, out, "ran 3 instances")
}

func TestSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	SetLevel("warn")
	Infof("hidden")
	Warnf("visible")
	SetLevel("info")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}
