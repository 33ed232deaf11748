package config

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path"
	"runtime"

	"github.com/fzxiao233/VodFetch/utils"
	"github.com/knq/sdhook"
	"github.com/orandin/lumberjackrus"
	"github.com/sirupsen/logrus"
)

// WriterHook writes entries up to LogLevel to Out with its own formatter
type WriterHook struct {
	Out       io.Writer
	Formatter logrus.Formatter
	LogLevel  logrus.Level
}

func (hook *WriterHook) Fire(entry *logrus.Entry) error {
	serialized, err := hook.Formatter.Format(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to format log entry, %v\n", err)
		return err
	}
	if _, err = hook.Out.Write(serialized); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write to logrus, %v\n", err)
	}
	return nil
}

func (hook *WriterHook) Levels() []logrus.Level {
	return logrus.AllLevels[:hook.LogLevel+1]
}

var ConsoleHook *WriterHook
var FileHook *lumberjackrus.Hook

func consoleFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		ForceColors:   true,
		FullTimestamp: true,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			filename := path.Base(f.File)
			_, _, shortfname := utils.RPartition(f.Function, ".")
			return fmt.Sprintf("%s()", shortfname), fmt.Sprintf("%s:%d", filename, f.Line)
		},
	}
}

// InitLog installs the console, rotating file and optional logging agent hooks.
// It needs the parsed config, so it can't run from init.
func InitLog(conf *MainConfig) error {
	level, err := logrus.ParseLevel(conf.LogLevel)
	if err != nil {
		logrus.Warnf("Unknown log_level %q, falling back to info", conf.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(logrus.DebugLevel)
	logrus.SetReportCaller(true)

	formatter := consoleFormatter()
	logrus.SetFormatter(formatter)
	ConsoleHook = &WriterHook{
		Out:       logrus.StandardLogger().Out,
		Formatter: formatter,
		LogLevel:  level,
	}
	logrus.AddHook(ConsoleHook)
	logrus.StandardLogger().Out = ioutil.Discard

	if conf.LogFile != "" {
		FileHook, err = lumberjackrus.NewHook(
			&lumberjackrus.LogFile{
				Filename:   conf.LogFile,
				MaxSize:    conf.LogFileSize,
				MaxBackups: 1,
				MaxAge:     1,
				Compress:   false,
				LocalTime:  false,
			},
			logrus.DebugLevel,
			&logrus.JSONFormatter{},
			nil,
		)
		if err != nil {
			return fmt.Errorf("log file hook: %w", err)
		}
		logrus.AddHook(FileHook)
	}

	if conf.LogAgent {
		googleHook, err := sdhook.New(
			sdhook.GoogleLoggingAgent(),
			sdhook.LogName(path.Base(conf.LogFile)),
			sdhook.Levels(logrus.AllLevels[:logrus.DebugLevel+1]...),
		)
		if err != nil {
			logrus.Warnf("Failed to initialize the logging agent hook: %v", err)
		} else {
			logrus.AddHook(googleHook)
		}
	}
	return nil
}
