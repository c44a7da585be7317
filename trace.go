package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Tracer writes a human console stream plus a per-run JSONL trace file so a
// failed batch can be replayed event by event afterwards.
type Tracer struct {
	log   *zap.Logger
	runID string
	path  string
	file  *os.File
}

func NewTracer(dir string, debug bool) (*Tracer, error) {
	runID := uuid.NewString()[:8]

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleCfg),
		zapcore.Lock(os.Stderr),
		level,
	)

	cores := []zapcore.Core{consoleCore}

	var file *os.File
	var path string
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create trace dir: %w", err)
		}
		path = filepath.Join(dir, fmt.Sprintf("trace_%s_%s.jsonl",
			time.Now().Format("20060102_150405"), runID))
		var err error
		file, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace file: %w", err)
		}

		jsonCfg := zap.NewProductionEncoderConfig()
		jsonCfg.TimeKey = "ts"
		jsonCfg.EncodeTime = zapcore.EpochMillisTimeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(jsonCfg),
			zapcore.AddSync(file),
			zapcore.DebugLevel,
		))
	}

	log := zap.New(zapcore.NewTee(cores...)).With(zap.String("run", runID))

	return &Tracer{log: log, runID: runID, path: path, file: file}, nil
}

// For returns a logger scoped to one schedule code.
func (t *Tracer) For(code string) *zap.Logger {
	return t.log.With(zap.String("code", code))
}

func (t *Tracer) Log() *zap.Logger { return t.log }

func (t *Tracer) RunID() string { return t.runID }

func (t *Tracer) Path() string { return t.path }

func (t *Tracer) Close() {
	t.log.Sync()
	if t.file != nil {
		t.file.Close()
	}
}
