// Package logflags configures the per-layer loggers used across vmdebug-mcp.
//
// Every layer gets its own logrus entry tagged with a "layer" field. Layers
// that were not enabled through Setup log at panic level only, so calls on
// them are effectively free.
package logflags

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Layer names accepted by Setup.
const (
	LayerWire     = "wire"
	LayerVM       = "vm"
	LayerMCP      = "mcp"
	LayerDAP      = "dap"
	LayerLauncher = "launcher"
)

var (
	mu      sync.RWMutex
	enabled = map[string]bool{}
	output  io.Writer = os.Stderr
)

var errLayersWithoutLog = errors.New("log layers specified without enabling logging")

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	mu.RLock()
	out := output
	mu.RUnlock()
	logger := logrus.New()
	logger.Out = out
	logger.Formatter = &logrus.TextFormatter{DisableColors: true, FullTimestamp: true}
	logger.Level = logrus.DebugLevel
	if !flag {
		logger.Level = logrus.PanicLevel
	}
	return logger.WithFields(fields)
}

func layerEnabled(layer string) bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled[layer]
}

// Wire returns true if every frame sent to or received from the VM should be logged.
func Wire() bool {
	return layerEnabled(LayerWire)
}

// WireLogger returns the logger for raw protocol frames.
func WireLogger() *logrus.Entry {
	return makeLogger(Wire(), logrus.Fields{"layer": LayerWire})
}

// VMLogger returns the logger for connection and debugger events.
func VMLogger() *logrus.Entry {
	return makeLogger(layerEnabled(LayerVM), logrus.Fields{"layer": LayerVM})
}

// MCPLogger returns the logger for the MCP tool server.
func MCPLogger() *logrus.Entry {
	return makeLogger(layerEnabled(LayerMCP), logrus.Fields{"layer": LayerMCP})
}

// DAPLogger returns the logger for the DAP bridge.
func DAPLogger() *logrus.Entry {
	return makeLogger(layerEnabled(LayerDAP), logrus.Fields{"layer": LayerDAP})
}

func LauncherLogger() *logrus.Entry {
	return makeLogger(layerEnabled(LayerLauncher), logrus.Fields{"layer": LayerLauncher})
}

// SetOutput redirects all loggers created after the call. A nil writer
// restores stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	output = w
}

// Setup enables the comma separated layers in layers. With logFlag false
// nothing is logged, and passing layers is an error.
func Setup(logFlag bool, layers string) error {
	mu.Lock()
	defer mu.Unlock()
	enabled = map[string]bool{}
	if !logFlag {
		if layers != "" {
			return errLayersWithoutLog
		}
		return nil
	}
	if layers == "" {
		layers = LayerVM
	}
	for _, layer := range strings.Split(layers, ",") {
		switch layer = strings.TrimSpace(layer); layer {
		case LayerWire, LayerVM, LayerMCP, LayerDAP, LayerLauncher:
			enabled[layer] = true
		}
	}
	return nil
}
