/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-12
 *
 * Pion 日志桥接
 * 将 pion 内部 (ICE/DTLS/SCTP) 日志统一输出到 utils.Logger
 */
package utils

import (
	"fmt"

	"github.com/pion/logging"
)

// PionLoggerFactory implements logging.LoggerFactory on top of a Logger.
// Messages below Min are dropped before formatting; pion is chatty at debug.
type PionLoggerFactory struct {
	Logger *Logger
	Min    LogLevel
}

// NewPionLoggerFactory returns a factory bound to the default logger
func NewPionLoggerFactory(min LogLevel) *PionLoggerFactory {
	return &PionLoggerFactory{Logger: GetLogger(), Min: min}
}

// NewLogger implements logging.LoggerFactory
func (f *PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	l := f.Logger
	if l == nil {
		l = GetLogger()
	}
	return &pionLogger{scope: scope, l: l, min: f.Min}
}

type pionLogger struct {
	scope string
	l     *Logger
	min   LogLevel
}

func (p *pionLogger) logf(level LogLevel, format string, args ...interface{}) {
	if level < p.min {
		return
	}
	p.l.log(level, "pion/%s: %s", p.scope, fmt.Sprintf(format, args...))
}

func (p *pionLogger) Trace(msg string)                          { p.logf(LogLevelDebug, "%s", msg) }
func (p *pionLogger) Tracef(format string, args ...interface{}) { p.logf(LogLevelDebug, format, args...) }
func (p *pionLogger) Debug(msg string)                          { p.logf(LogLevelDebug, "%s", msg) }
func (p *pionLogger) Debugf(format string, args ...interface{}) { p.logf(LogLevelDebug, format, args...) }
func (p *pionLogger) Info(msg string)                           { p.logf(LogLevelInfo, "%s", msg) }
func (p *pionLogger) Infof(format string, args ...interface{})  { p.logf(LogLevelInfo, format, args...) }
func (p *pionLogger) Warn(msg string)                           { p.logf(LogLevelWarn, "%s", msg) }
func (p *pionLogger) Warnf(format string, args ...interface{})  { p.logf(LogLevelWarn, format, args...) }
func (p *pionLogger) Error(msg string)                          { p.logf(LogLevelError, "%s", msg) }
func (p *pionLogger) Errorf(format string, args ...interface{}) { p.logf(LogLevelError, format, args...) }
