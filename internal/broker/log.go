package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"farmbridge/internal/logging"
)

// pahoLogger adapts slog to the Paho client's package-level loggers.
type pahoLogger struct {
	logger *slog.Logger
	level  slog.Level
}

func (l pahoLogger) Println(v ...any) {
	l.log(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (l pahoLogger) Printf(format string, v ...any) {
	l.log(strings.TrimSuffix(fmt.Sprintf(format, v...), "\n"))
}

func (l pahoLogger) log(msg string) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, l.level) {
		return
	}
	l.logger.Log(ctx, l.level, msg)
}

// InstallLogger routes the Paho client's internal logging to logger under
// component "paho". CRITICAL and ERROR map to error, WARN to warn and DEBUG
// to debug. Paho's loggers are process-wide; call once from main.
func InstallLogger(logger *slog.Logger) {
	l := logging.Default(logger).With("component", "paho")
	mqtt.CRITICAL = pahoLogger{logger: l, level: slog.LevelError}
	mqtt.ERROR = pahoLogger{logger: l, level: slog.LevelError}
	mqtt.WARN = pahoLogger{logger: l, level: slog.LevelWarn}
	mqtt.DEBUG = pahoLogger{logger: l, level: slog.LevelDebug}
}
