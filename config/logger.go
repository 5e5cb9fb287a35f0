package config

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// AppName names the root logger.
const AppName = "splice"

// LoggerConfig configures one logging destination.
type LoggerConfig struct {
	Level       string `yaml:"level" validate:"required,oneof=none debug normal"`
	Destination string `yaml:"destination,omitempty" validate:"omitempty,filepath"`
	Mode        string `yaml:"mode,omitempty" validate:"omitempty,oneof=append overwrite"`
}

// LoggingConfig configures the console and file loggers.
type LoggingConfig struct {
	FileLogger    LoggerConfig `yaml:"file"`
	ConsoleLogger LoggerConfig `yaml:"console"`
}

// Prepare returns the configured logger writing to the process console.
func (conf *LoggingConfig) Prepare() (*zap.Logger, error) {
	return conf.prepare(zapcore.Lock(os.Stdout), zapcore.Lock(os.Stderr))
}

func (conf *LoggingConfig) prepare(stdout, stderr zapcore.WriteSyncer) (*zap.Logger, error) {
	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeCaller = nil
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	ec.TimeKey = zapcore.OmitKey

	consoleEncoderLP := zapcore.NewConsoleEncoder(ec)
	consoleEncoderHP := newEncoder(ec)

	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})

	var consoleCoreHP, consoleCoreLP zapcore.Core

	switch conf.ConsoleLogger.Level {
	case "normal":
		consoleCoreLP = zapcore.NewCore(consoleEncoderLP, stdout,
			zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
				return zapcore.InfoLevel <= lvl && lvl < zapcore.ErrorLevel
			}))
		consoleCoreHP = zapcore.NewCore(consoleEncoderHP, stderr, highPriority)
	case "debug":
		consoleCoreLP = zapcore.NewCore(consoleEncoderLP, stdout,
			zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
				return zapcore.DebugLevel <= lvl && lvl < zapcore.ErrorLevel
			}))
		consoleCoreHP = zapcore.NewCore(consoleEncoderHP, stderr, highPriority)
	default:
		consoleCoreLP = zapcore.NewNopCore()
		consoleCoreHP = zapcore.NewNopCore()
	}

	fileCore, err := conf.fileCore()
	if err != nil {
		return nil, err
	}

	return zap.New(zapcore.NewTee(consoleCoreHP, consoleCoreLP, fileCore)).Named(AppName), nil
}

func (conf *LoggingConfig) fileCore() (zapcore.Core, error) {
	var level zap.AtomicLevel

	switch conf.FileLogger.Level {
	case "debug":
		level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "normal":
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	default:
		return zapcore.NewNopCore(), nil
	}

	if conf.FileLogger.Destination == "" {
		return nil, errors.New("file logger enabled without a destination")
	}

	flags := os.O_CREATE | os.O_WRONLY
	if conf.FileLogger.Mode == "append" {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(conf.FileLogger.Destination, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("unable to access file log destination (%s): %w",
			conf.FileLogger.Destination, err)
	}

	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())

	return zapcore.NewCore(encoder, zapcore.Lock(f), level), nil
}

// consoleEnc prints errors without their verbose form.
type consoleEnc struct {
	zapcore.Encoder
}

func newEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return consoleEnc{zapcore.NewConsoleEncoder(cfg)}
}

func (c consoleEnc) Clone() zapcore.Encoder {
	return consoleEnc{c.Encoder.Clone()}
}

func (c consoleEnc) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	newFields := make([]zapcore.Field, 0, len(fields))
	for _, f := range fields {
		if f.Type == zapcore.ErrorType {
			e := f.Interface.(error)
			f.Interface = errors.New(e.Error())
		}
		newFields = append(newFields, f)
	}

	return c.Encoder.EncodeEntry(ent, newFields)
}
