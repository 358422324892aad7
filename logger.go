package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// logWriter sends every event to file and warnings and above to console.
func logWriter(file, console io.Writer) zerolog.LevelWriter {
	return zerolog.MultiLevelWriter(
		file,
		&zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: console},
			Level:  zerolog.WarnLevel,
		},
	)
}

// initLogger sends JSON logs at level and above to a rotating file in dir,
// and warnings and above to the console. It returns a func closing the file.
func initLogger(dir, level string) (func(), error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	lj := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "worldscan.log"),
		MaxSize:    10, // MB
		MaxBackups: 3,
		LocalTime:  true,
	}
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}

	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = zerolog.New(logWriter(lj, console)).With().Timestamp().Caller().Logger()

	return func() {
		if err := lj.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
		}
	}, nil
}
