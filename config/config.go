package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Logging   Logging   `yaml:"logging"`
	Connector Connector `yaml:"connector"`
	Broadcast Broadcast `yaml:"broadcast"`
	Announce  Announce  `yaml:"announce"`
	Reflector Reflector `yaml:"reflector"`

	StunServer string `yaml:"stunServer"`

	Handlers []Handler `yaml:"handlers"`
}

type Logging struct {
	Level string `yaml:"level"`
}

type Connector struct {
	// SendAddr and ReceiveAddr pin local endpoints; empty means allocated.
	SendAddr       string        `yaml:"sendAddr"`
	ReceiveAddr    string        `yaml:"receiveAddr"`
	Encoding       string        `yaml:"encoding"`
	ReceiveTimeout time.Duration `yaml:"receiveTimeout"`
	MaxInflight    int           `yaml:"maxInflight"`
	ReadBuffer     int           `yaml:"readBuffer"`
	ReuseAddr      bool          `yaml:"reuseAddr"`
}

type Broadcast struct {
	Port    int      `yaml:"port"`
	Targets []string `yaml:"targets"`
	Subnet  bool     `yaml:"subnet"`
}

type Announce struct {
	Interval time.Duration `yaml:"interval"`
	Message  string        `yaml:"message"`
}

type Reflector struct {
	Addr string `yaml:"addr"`
}

// Handler names an inbound message handler and carries its free-form spec.
type Handler struct {
	Name string                 `yaml:"name"`
	Spec map[string]interface{} `yaml:"spec"`
}

// LoadSpec decodes the handler's spec into target.
func (h *Handler) LoadSpec(target interface{}) error {
	return mapstructure.Decode(h.Spec, target)
}

type LogSpec struct {
	Payload bool `mapstructure:"payload"`
}

type ForwardSpec struct {
	Target string `mapstructure:"target"`
}

func Default() *Config {
	return &Config{
		Logging: Logging{Level: "info"},
		Connector: Connector{
			Encoding: "utf-8",
		},
		Broadcast: Broadcast{Port: 9999},
		Announce:  Announce{Interval: 5 * time.Second},
		Reflector: Reflector{Addr: "0.0.0.0:3478"},
		Handlers:  []Handler{{Name: "log"}},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	for name, addr := range map[string]string{
		"connector.sendAddr":    c.Connector.SendAddr,
		"connector.receiveAddr": c.Connector.ReceiveAddr,
		"reflector.addr":        c.Reflector.Addr,
	} {
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if c.Connector.MaxInflight < 0 {
		errs = append(errs, errors.New("connector.maxInflight must not be negative"))
	}
	if c.Connector.ReceiveTimeout < 0 {
		errs = append(errs, errors.New("connector.receiveTimeout must not be negative"))
	}
	if c.Broadcast.Port < 1 || c.Broadcast.Port > 65535 {
		errs = append(errs, fmt.Errorf("broadcast.port %d out of range", c.Broadcast.Port))
	}
	for _, target := range c.Broadcast.Targets {
		if net.ParseIP(target) == nil {
			errs = append(errs, fmt.Errorf("broadcast.targets: invalid IP %q", target))
		}
	}
	if c.Announce.Interval <= 0 {
		errs = append(errs, errors.New("announce.interval must be positive"))
	}
	for i, h := range c.Handlers {
		if h.Name == "" {
			errs = append(errs, fmt.Errorf("handlers[%d]: missing name", i))
		}
	}

	return errors.Join(errs...)
}
