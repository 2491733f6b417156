package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_RejectsInvalidConfiguration(t *testing.T) {
	t.Setenv("STUDYROOM_DATABASE_PATH", filepath.Join(t.TempDir(), "studyroom.db"))
	t.Setenv("STUDYROOM_HTTP_PORT", "-1")

	assert.Equal(t, 1, run())
}

func TestRun_RejectsMissingConfigFile(t *testing.T) {
	t.Setenv("STUDYROOM_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.json"))

	assert.Equal(t, 1, run())
}
