package logger_test

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/hbomb79/Telluride/pkg/logger"
	"github.com/stretchr/testify/assert"
)

func captureOutput(t *testing.T, minLevel logger.LogStatus) *bytes.Buffer {
	color.NoColor = true
	buf := &bytes.Buffer{}
	logger.SetOutput(buf)
	logger.SetMinLoggingLevel(minLevel.Level())

	t.Cleanup(func() {
		logger.SetOutput(nil)
		logger.SetMinLoggingLevel(logger.INFO.Level())
	})

	return buf
}

func Test_Emit_FormatsNameAndStatus(t *testing.T) {
	buf := captureOutput(t, logger.INFO)

	logger.Get("Gate").Warnf("rejected peer %s\n", "10.0.0.4")
	assert.Contains(t, buf.String(), "[Gate]")
	assert.Contains(t, buf.String(), "(!) rejected peer 10.0.0.4")
}

func Test_Emit_FiltersBelowMinimumLevel(t *testing.T) {
	buf := captureOutput(t, logger.WARNING)

	log := logger.Get("Filter")
	log.Debugf("hidden\n")
	log.Infof("also hidden\n")
	log.Errorf("shown\n")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func Test_ParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		expected logger.LogStatus
		ok       bool
	}{
		{"debug", logger.DEBUG, true},
		{" WARN ", logger.WARNING, true},
		{"Error", logger.ERROR, true},
		{"verbose", logger.VERBOSE, true},
		{"loud", logger.INFO, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, ok := logger.ParseLevel(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, level)
		})
	}
}
