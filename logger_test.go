package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLogWriterFiltersConsole(t *testing.T) {
	var file, console bytes.Buffer
	logger := zerolog.New(logWriter(&file, &console))

	logger.Info().Msg("searching")
	logger.Error().Msg("tracking lost")

	if !strings.Contains(file.String(), "searching") || !strings.Contains(file.String(), "tracking lost") {
		t.Errorf("file must get every event, got %q", file.String())
	}
	if strings.Contains(console.String(), "searching") || !strings.Contains(console.String(), "tracking lost") {
		t.Errorf("console must only get warnings and above, got %q", console.String())
	}
}

func TestInitLoggerRejectsBadLevel(t *testing.T) {
	if _, err := initLogger(t.TempDir(), "loud"); err == nil {
		t.Errorf("expected an error for an unknown level")
	}
}
