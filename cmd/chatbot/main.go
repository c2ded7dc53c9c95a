package main

import (
	"errors"
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/app"
)

const defaultEnvFile = ".env"

type options struct {
	EnvFile   string `long:"env-file" env:"BOT_ENV_FILE" default:".env" description:"dotenv file loaded before reading BOT_* variables"`
	LogLevel  string `long:"log-level" description:"Override BOT_LOG_LEVEL (debug, info, warn, error)"`
	LogFormat string `long:"log-format" description:"Override BOT_LOG_FORMAT (json, text, pretty)"`
	NoStdin   bool   `long:"no-stdin" description:"Do not treat stdin lines as a signal to re-check the bot credential"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	run := app.Options{
		EnvFile:         opts.EnvFile,
		EnvFileRequired: opts.EnvFile != defaultEnvFile,
		LogLevel:        opts.LogLevel,
		LogFormat:       opts.LogFormat,
	}
	if !opts.NoStdin {
		run.OperatorInput = os.Stdin
	}

	if err := app.Run(run); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
