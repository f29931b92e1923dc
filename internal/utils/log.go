package utils

import (
	"os"

	"github.com/rs/zerolog"
)

var Log zerolog.Logger

func SetLogger() {
	level := zerolog.InfoLevel

	// Set debug level
	debug := len(ReadCMDLineArg("cos.gpu.debug")) > 0
	debugFromEnv := os.Getenv("GPU_INSTALLER_DEBUG") != ""
	if debug || debugFromEnv {
		level = zerolog.DebugLevel
	}

	Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(level)
}
