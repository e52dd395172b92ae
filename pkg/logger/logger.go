package logger

import (
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ufra-ai/ufra-core/pkg/configs"
)

var applicationName string = ""

func InitLogger(configs *configs.AppConfigs) {
	logLevel := strings.ToUpper(configs.Configs.ApplicationLogLevel)
	applicationName = configs.Configs.ApplicationName
	switch logLevel {
	case "DEBUG":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "INFO":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "WARN":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "ERROR":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "FATAL":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "PANIC":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	case "DISABLED":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		Panic(fmt.Sprintf("Incorrect log level %s", logLevel), nil)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	Info("Logger initialized!")
}

func Info(message string) {
	log.Info().Str("app", applicationName).Msg(message)
}

func Warn(message string) {
	log.Warn().Str("app", applicationName).Msg(message)
}

func Error(message string, err error) {
	log.Error().Str("app", applicationName).AnErr("error", err).Msg(message)
}

// PercentError logs at most loggingPercent% of calls. Used on per-frame hot
// paths where a bad stream would otherwise flood the log.
func PercentError(message string, err error, loggingPercent int) {
	if loggingPercent == 0 {
		loggingPercent = 10
	}
	randomNumber := rand.Intn(100) + 1
	if randomNumber <= loggingPercent {
		Error(message, err)
	}
}

func Panic(message string, err error) {
	Error(message, err)
	log.Panic().Str("app", applicationName).AnErr("error", err).Msg(message)
}
