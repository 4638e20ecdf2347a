// pkg/utils/logger_syslog.go

//go:build !windows

package utils

import (
	"log/syslog"

	lsyslog "github.com/sirupsen/logrus/hooks/syslog"
)

// InitLoggers sends every logger to syslog as well when logToSyslog is set.
func InitLoggers(logToSyslog bool) {
	if !logToSyslog {
		return
	}
	hook, err := lsyslog.NewSyslogHook("", "", syslog.LOG_DEBUG|syslog.LOG_USER, "")
	if err != nil {
		GetLogger("chunkfs").Warnf("unable to connect to local syslog daemon: %s", err)
		return
	}
	mu.Lock()
	defer mu.Unlock()
	syslogHook = hook
	for _, l := range loggers {
		l.AddHook(hook)
	}
}
