// Package config loads the server configuration from YAML. Every field has a default, so an empty file
// (or no file at all) yields a runnable server.
package config

import (
	"fmt"
	"github.com/fzft/go-mock-webserver/log"
	"github.com/fzft/go-mock-webserver/node"
	"github.com/fzft/go-mock-webserver/threadpool"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
	"os"
	"time"
)

const (
	DefaultPort        = 9006
	DefaultThreadNum   = 8
	DefaultMaxRequests = 10000
	DefaultSQLNum      = 8
)

type Config struct {
	Port           int    `yaml:"port"`
	ListenTrigMode string `yaml:"listen_trig_mode"`
	ConnTrigMode   string `yaml:"conn_trig_mode"`
	ActorModel     string `yaml:"actor_model"`
	OptLinger      bool   `yaml:"opt_linger"`

	ThreadNum   int `yaml:"thread_num"`
	MaxRequests int `yaml:"max_requests"`
	SQLNum      int `yaml:"sql_num"`

	Timeslot    time.Duration `yaml:"timeslot"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	MaxFD       int           `yaml:"max_fd"`

	Log log.Config `yaml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := defaults()
	c.ConnTimeout = 3 * c.Timeslot
	return c
}

func defaults() *Config {
	return &Config{
		Port:           DefaultPort,
		ListenTrigMode: node.LevelTriggered.String(),
		ConnTrigMode:   node.LevelTriggered.String(),
		ActorModel:     threadpool.Proactor.String(),
		ThreadNum:      DefaultThreadNum,
		MaxRequests:    DefaultMaxRequests,
		SQLNum:         DefaultSQLNum,
		Timeslot:       node.DefaultTimeslot,
		MaxFD:          node.DefaultMaxFD,
		Log:            log.Config{Level: "info"},
	}
}

// Load reads path, fills unset fields with defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults. An unset conn_timeout follows the decoded timeslot.
func Parse(data []byte) (*Config, error) {
	c := defaults()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if c.ConnTimeout == 0 {
		c.ConnTimeout = 3 * c.Timeslot
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects non-positive sizes and unknown mode names. All problems are reported together.
func (c *Config) Validate() error {
	var errs error
	if c.Port < 0 || c.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if _, err := node.ParseTrigMode(c.ListenTrigMode); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("listen_trig_mode: %w", err))
	}
	if _, err := node.ParseTrigMode(c.ConnTrigMode); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("conn_trig_mode: %w", err))
	}
	if _, err := threadpool.ParseActorModel(c.ActorModel); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("actor_model: %w", err))
	}
	for _, f := range []struct {
		name  string
		value int
	}{
		{"thread_num", c.ThreadNum},
		{"max_requests", c.MaxRequests},
		{"sql_num", c.SQLNum},
		{"max_fd", c.MaxFD},
	} {
		if f.value <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s must be positive, got %d", f.name, f.value))
		}
	}
	if c.Log.BufferSize < 0 {
		errs = multierr.Append(errs, fmt.Errorf("log.buffer_size must not be negative, got %d", c.Log.BufferSize))
	}
	if c.Timeslot <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("timeslot must be positive, got %s", c.Timeslot))
	}
	if c.ConnTimeout <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("conn_timeout must be positive, got %s", c.ConnTimeout))
	}
	if errs != nil {
		return fmt.Errorf("config: invalid: %w", errs)
	}
	return nil
}

// Model is the parsed actor model. Call it on a validated Config.
func (c *Config) Model() threadpool.ActorModel {
	m, _ := threadpool.ParseActorModel(c.ActorModel)
	return m
}

// ServerOptions converts the loop settings. Call it on a validated Config.
func (c *Config) ServerOptions() node.Options {
	listen, _ := node.ParseTrigMode(c.ListenTrigMode)
	conn, _ := node.ParseTrigMode(c.ConnTrigMode)
	return node.Options{
		Port:        c.Port,
		ListenTrig:  listen,
		ConnTrig:    conn,
		OptLinger:   c.OptLinger,
		Timeslot:    c.Timeslot,
		ConnTimeout: c.ConnTimeout,
		MaxFD:       c.MaxFD,
	}
}
