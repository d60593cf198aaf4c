package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadClampsDuplicateWindow(t *testing.T) {
	t.Setenv("DUPLICATE_WINDOW_MINUTES", "not-a-number")
	cfg := Load()
	assert.Equal(t, 30, cfg.Business.DuplicateWindowMinutes)

	t.Setenv("DUPLICATE_WINDOW_MINUTES", "-5")
	cfg = Load()
	assert.Equal(t, 30, cfg.Business.DuplicateWindowMinutes)

	t.Setenv("DUPLICATE_WINDOW_MINUTES", "15")
	cfg = Load()
	assert.Equal(t, 15, cfg.Business.DuplicateWindowMinutes)
}
