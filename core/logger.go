package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// ProductionLogger is a leveled structured logger. It emits JSON when
// running inside Kubernetes (for log aggregation) and human-readable text
// otherwise.
//
// Configuration priority:
//  1. Explicit options (highest)
//  2. Environment variables (EVOLV_LOG_LEVEL, EVOLV_LOG_FORMAT)
//  3. Auto-detection (K8s environment)
//  4. Defaults (lowest)
type ProductionLogger struct {
	level  int
	format string
	module string
	output io.Writer
	mu     sync.Mutex
}

const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
)

func parseLevel(s string) int {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return levelDebug
	case "WARN", "WARNING":
		return levelWarn
	case "ERROR":
		return levelError
	default:
		return levelInfo
	}
}

// NewProductionLogger creates a logger for the given module name.
func NewProductionLogger(module string) *ProductionLogger {
	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	if v := os.Getenv("EVOLV_LOG_FORMAT"); v != "" {
		format = v
	}
	return &ProductionLogger{
		level:  parseLevel(os.Getenv("EVOLV_LOG_LEVEL")),
		format: format,
		module: module,
		output: os.Stdout,
	}
}

// WithModule returns a copy of the logger scoped to another module name.
func (l *ProductionLogger) WithModule(module string) *ProductionLogger {
	return &ProductionLogger{level: l.level, format: l.format, module: module, output: l.output}
}

// SetOutput redirects log output, mainly for tests.
func (l *ProductionLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(levelDebug, "DEBUG", msg, fields)
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.log(levelInfo, "INFO", msg, fields)
}

func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(levelWarn, "WARN", msg, fields)
}

func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	l.log(levelError, "ERROR", msg, fields)
}

func (l *ProductionLogger) log(level int, name, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format(time.RFC3339)
	if l.format == "json" {
		entry := map[string]interface{}{
			"ts":     ts,
			"level":  name,
			"module": l.module,
			"msg":    msg,
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(l.output, string(data))
		}
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s [%s] %s", ts, name, l.module, msg)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	fmt.Fprintln(l.output, b.String())
}
