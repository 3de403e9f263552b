// Package logging configures the process-wide logrus logger.
package logging

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Setup sends log output to file, if set, and applies level, if set.
func Setup(file, level string) error {
	if file != "" {
		f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		log.SetOutput(f)
		log.SetFormatter(&log.TextFormatter{DisableColors: true, FullTimestamp: true})
	}
	if level != "" {
		l, err := ParseLevel(level)
		if err != nil {
			return err
		}
		log.SetLevel(l)
	}
	return nil
}

func ParseLevel(level string) (log.Level, error) {
	switch strings.ToLower(level) {
	case "error":
		return log.ErrorLevel, nil
	case "warn":
		return log.WarnLevel, nil
	case "info":
		return log.InfoLevel, nil
	case "debug":
		return log.DebugLevel, nil
	}
	return 0, errors.New("unknown log level: " + level)
}

// UseConsole formats output for a terminal.
func UseConsole() {
	log.SetFormatter(&ConsoleFormatter{})
}

// ConsoleFormatter writes one line per entry with a coloured level.
type ConsoleFormatter struct {
	// TimestampFormat defaults to 15:04:05.000.
	TimestampFormat string
	NoColor         bool
}

var levelColors = map[log.Level]color.Attribute{
	log.PanicLevel: color.FgHiRed,
	log.FatalLevel: color.FgHiRed,
	log.ErrorLevel: color.FgRed,
	log.WarnLevel:  color.FgYellow,
	log.InfoLevel:  color.FgCyan,
	log.DebugLevel: color.FgWhite,
	log.TraceLevel: color.FgWhite,
}

func (f *ConsoleFormatter) Format(e *log.Entry) ([]byte, error) {
	tf := f.TimestampFormat
	if tf == "" {
		tf = "15:04:05.000"
	}

	lc := color.New(levelColors[e.Level])
	fc := color.New(color.Faint)
	if f.NoColor {
		lc.DisableColor()
		fc.DisableColor()
	}

	var b bytes.Buffer
	b.WriteString(e.Time.Format(tf))
	b.WriteByte(' ')
	b.WriteString(lc.Sprintf("%-5s", strings.ToUpper(e.Level.String())))
	b.WriteByte(' ')
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(fc.Sprint(k + "="))
		fmt.Fprint(&b, e.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}
