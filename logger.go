package main

import (
	"os"

	"github.com/fansqz/go-step-tracer/constants"
	"github.com/sirupsen/logrus"
)

var logFile *os.File

// SetupLogger 根据日志级别配置logrus，logPath不为空时日志写入文件
// 结果输出在stdout中，日志默认写入stderr
func SetupLogger(level constants.LogLevel, logPath string) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetLevel(logrusLevel(level))
	logrus.SetOutput(os.Stderr)
	if logPath == "" {
		return
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		logrus.Warnf("[Logger] open log file %s fail, err = %v", logPath, err)
		return
	}
	logFile = file
	logrus.SetOutput(logFile)
}

func CloseLogger() {
	if logFile != nil {
		_ = logFile.Close()
	}
}

// logrusLevel 将LOG_LEVEL的取值转换成logrus的级别，未知取值按照off处理
func logrusLevel(level constants.LogLevel) logrus.Level {
	switch level {
	case constants.LogLevelOn:
		return logrus.InfoLevel
	case constants.LogLevelDebug:
		return logrus.DebugLevel
	case constants.LogLevelVerbose:
		return logrus.TraceLevel
	default:
		return logrus.WarnLevel
	}
}
