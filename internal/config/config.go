// Package config reads the broker's on-disk settings: a single
// config.json, auto-created with defaults on first run, exactly as the
// teacher's own internal/config does it.
package config

import (
	"encoding/json"
	"errors"
	"os"
)

// Config is the broker's complete set of startup settings. Everything
// here is read once, at startup; nothing is hot-reloaded.
type Config struct {
	DebugMode bool   `json:"debug_mode"`
	AppName   string `json:"app_name"`
	AppPort   int    `json:"app_port"`

	// SenderWorkers / ReceiverWorkers size the bounded ants.Pool
	// instances internal/connio hands decode/dispatch/write work to.
	SenderWorkers   int `json:"sender_workers"`
	ReceiverWorkers int `json:"receiver_workers"`

	// ScriptAsyncWorkers bounds the pool internal/script dispatches
	// Async script runs through.
	ScriptAsyncWorkers int `json:"script_async_workers"`

	// ScriptSyncTimeoutSeconds bounds how long the writer blocks on a
	// Sync script before defaulting to Continue (§4.7).
	ScriptSyncTimeoutSeconds int `json:"script_sync_timeout_seconds"`

	// MaxConnections bounds how many sockets the accept loop admits at
	// once; further accepts block until one closes.
	MaxConnections int `json:"max_connections"`

	// DefaultKeepAliveSeconds is used when a CONNECT sets KeepAlive=0
	// (no keepalive requested); 0 here disables the broker's own
	// keepalive sweep for such clients too.
	DefaultKeepAliveSeconds int `json:"default_keep_alive_seconds"`
}

// defaultConfig is written to config.json the first time the broker
// runs without one.
func defaultConfig() Config {
	return Config{
		DebugMode:                false,
		AppName:                  "nioev-mqtt",
		AppPort:                  1883,
		SenderWorkers:            4,
		ReceiverWorkers:          4,
		ScriptAsyncWorkers:       8,
		ScriptSyncTimeoutSeconds: 5,
		MaxConnections:           1024,
		DefaultKeepAliveSeconds:  60,
	}
}

var config Config
var initialized = false

// ReadConfig loads config.json, creating it with defaults if absent.
// A freshly-created file is reported as an error so the caller stops
// and lets an operator review it before the broker actually starts.
func ReadConfig() (Config, error) {
	bytes, err := os.ReadFile("config.json")

	if err != nil {
		def := defaultConfig()
		writer, _ := os.OpenFile("config.json", os.O_RDWR|os.O_CREATE, 0644)
		data, _ := json.MarshalIndent(def, "", "\t")
		_, _ = writer.Write(data)
		_ = writer.Close()
		return def, errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")
	}

	err = json.Unmarshal(bytes, &config)
	if err != nil {
		return config, errors.New("the configuration file does not contain valid JSON")
	}

	initialized = true
	return config, nil
}

// GetConfig returns the already-loaded Config, reading it from disk on
// first call.
func GetConfig() (Config, error) {
	if initialized {
		return config, nil
	}
	return ReadConfig()
}
