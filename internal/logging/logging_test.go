package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := Setup(Options{JSON: true, Service: "cipherkeep", Version: "1.2.3", Output: &buf})

	log.Debug("hidden")
	log.Info("vault unlocked", "credentials", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "vault unlocked", rec["msg"])
	assert.Equal(t, "cipherkeep", rec["service"])
	assert.Equal(t, "1.2.3", rec["version"])
	assert.EqualValues(t, 3, rec["credentials"])
}

func TestSetup_DebugText(t *testing.T) {
	var buf bytes.Buffer
	log := Setup(Options{Debug: true, Output: &buf})

	log.Debug("probe finished", "hosts", 253)
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "hosts=253")
}
