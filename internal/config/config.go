package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SerialConfig describes the serial link to the arm controller board.
type SerialConfig struct {
	Port     string `yaml:"port"`      // e.g., "/dev/ttyACM0" or "COM10"
	BaudRate int    `yaml:"baud_rate"` // default 9600
	Mock     bool   `yaml:"mock"`      // use the simulated device (true=dev/test, false=real board)
}

// ProtocolConfig holds the timings of the command/confirmation handshake.
type ProtocolConfig struct {
	ConfirmTimeoutS float64 `yaml:"confirm_timeout_s"` // wait for DONE/ERROR after a command
	ReadyTimeoutS   float64 `yaml:"ready_timeout_s"`   // wait for the startup message after open
	PollIntervalMs  int     `yaml:"poll_interval_ms"`  // confirmation polling interval
	ReadyPollMs     int     `yaml:"ready_poll_ms"`     // ready handshake polling interval
	SettleMs        int     `yaml:"settle_ms"`         // board reset time after the port opens
}

// ArmConfig describes the arm itself.
type ArmConfig struct {
	DefaultSpeed int     `yaml:"default_speed"` // steps/s used when a request has none
	Link1Mm      float64 `yaml:"link1_mm"`      // shoulder to elbow
	Link2Mm      float64 `yaml:"link2_mm"`      // elbow to tool
}

// IndicatorConfig is optional: a LED lit while a command is in flight.
type IndicatorConfig struct {
	BusyPin  int  `yaml:"busy_pin"`  // BCM pin. 0 = not used.
	MockGPIO bool `yaml:"mock_gpio"` // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// StoreConfig points at the file holding named positions and sequences.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig is optional: status telemetry. Empty broker URL disables it.
type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url"` // e.g., "tcp://localhost:1883"
	Topic     string `yaml:"topic"`
}

// GamepadConfig is optional: jog the arm from a Linux joystick device.
type GamepadConfig struct {
	Enabled bool   `yaml:"enabled"`
	Device  string `yaml:"device"` // e.g., "/dev/input/js0"
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	WebPort    int `yaml:"web_port"`    // 0 = default 8080
}

// Config aggregates all application configuration.
type Config struct {
	Serial    SerialConfig    `yaml:"serial"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	Arm       ArmConfig       `yaml:"arm"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Store     StoreConfig     `yaml:"store"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Gamepad   GamepadConfig   `yaml:"gamepad"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
}

const (
	minSpeed = 100
	maxSpeed = 2000
)

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML data, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and the mock device selected.
func Default() *Config {
	cfg := Config{Serial: SerialConfig{Mock: true}, Indicator: IndicatorConfig{MockGPIO: true}}
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Serial.BaudRate <= 0 {
		c.Serial.BaudRate = 9600
	}
	if c.Serial.Mock && c.Serial.Port == "" {
		c.Serial.Port = "mock://scara"
	}
	if c.Protocol.ConfirmTimeoutS <= 0 {
		c.Protocol.ConfirmTimeoutS = 30
	}
	if c.Protocol.ReadyTimeoutS <= 0 {
		c.Protocol.ReadyTimeoutS = 10
	}
	if c.Protocol.PollIntervalMs <= 0 {
		c.Protocol.PollIntervalMs = 50
	}
	if c.Protocol.ReadyPollMs <= 0 {
		c.Protocol.ReadyPollMs = 100
	}
	if c.Protocol.SettleMs < 0 {
		c.Protocol.SettleMs = 0
	} else if c.Protocol.SettleMs == 0 && !c.Serial.Mock {
		c.Protocol.SettleMs = 2000 // the board resets when the port opens
	}
	if c.Arm.DefaultSpeed == 0 {
		c.Arm.DefaultSpeed = 500
	}
	if c.Arm.Link1Mm <= 0 {
		c.Arm.Link1Mm = 80
	}
	if c.Arm.Link2Mm <= 0 {
		c.Arm.Link2Mm = 60
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/scara.yaml"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "scara/status"
	}
	if c.Gamepad.Device == "" {
		c.Gamepad.Device = "/dev/input/js0"
	}
	if c.Defaults.WebPort <= 0 {
		c.Defaults.WebPort = 8080
	}
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	if c.Serial.Port == "" && !c.Serial.Mock {
		return fmt.Errorf("serial.port is required unless serial.mock is set")
	}
	if c.Arm.DefaultSpeed < minSpeed || c.Arm.DefaultSpeed > maxSpeed {
		return fmt.Errorf("arm.default_speed must be between %d and %d, got %d", minSpeed, maxSpeed, c.Arm.DefaultSpeed)
	}
	if c.Indicator.BusyPin < 0 {
		return fmt.Errorf("indicator.busy_pin must be >= 0, got %d", c.Indicator.BusyPin)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	if c.Defaults.WebPort > 65535 {
		return fmt.Errorf("defaults.web_port must be 1-65535, got %d", c.Defaults.WebPort)
	}
	return nil
}

// ConfirmTimeout returns how long a command waits for DONE/ERROR.
func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.Protocol.ConfirmTimeoutS * float64(time.Second))
}

// ReadyTimeout returns how long the connect handshake waits for the startup message.
func (c *Config) ReadyTimeout() time.Duration {
	return time.Duration(c.Protocol.ReadyTimeoutS * float64(time.Second))
}

// PollInterval returns the confirmation polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Protocol.PollIntervalMs) * time.Millisecond
}

// ReadyPoll returns the ready handshake polling interval.
func (c *Config) ReadyPoll() time.Duration {
	return time.Duration(c.Protocol.ReadyPollMs) * time.Millisecond
}

// Settle returns the wait after opening the port, before the handshake.
func (c *Config) Settle() time.Duration {
	return time.Duration(c.Protocol.SettleMs) * time.Millisecond
}
