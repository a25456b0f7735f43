package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/cjeanneret/ScaraGo/internal/config"
	"github.com/cjeanneret/ScaraGo/internal/debug"
	"github.com/cjeanneret/ScaraGo/internal/hw/arm"
	"github.com/cjeanneret/ScaraGo/internal/hw/serialport"
	"github.com/cjeanneret/ScaraGo/internal/logic/motion"
	"github.com/cjeanneret/ScaraGo/internal/store"
)

// loadConfig reads the config file and applies the global flag overrides.
// With --mock a missing config file falls back to the built-in defaults.
func loadConfig(o *Options) (*config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		if !o.Mock || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load config %s: %w", o.Config, err)
		}
		cfg = config.Default()
	}
	if err := applyOverrides(cfg, o); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOverrides mutates cfg with the non-zero global flags.
func applyOverrides(cfg *config.Config, o *Options) error {
	if o.Mock {
		cfg.Serial.Mock = true
		cfg.Indicator.MockGPIO = true
		cfg.Protocol.SettleMs = 0
		if o.Port == "" && cfg.Serial.Port == "" {
			cfg.Serial.Port = "mock://scara"
		}
	}
	if o.Port != "" {
		cfg.Serial.Port = o.Port
	}
	if o.Debug >= 0 {
		cfg.Defaults.DebugLevel = o.Debug
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid override: %w", err)
	}
	return nil
}

// app is the wired object graph shared by the commands.
type app struct {
	cfg      *config.Config
	registry *arm.Registry
	gateway  *motion.Gateway
}

func newApp(cfg *config.Config) *app {
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Serial port", cfg.Serial.Port)
	debug.Value("Mock serial", cfg.Serial.Mock)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.PrintStruct("Protocol", cfg.Protocol)

	registry := arm.NewRegistry(func() serialport.Transport {
		return serialport.New(cfg.Serial.Mock)
	})
	session := registry.Session(sessionConfig(cfg))
	return &app{
		cfg:      cfg,
		registry: registry,
		gateway:  motion.NewGateway(session, cfg),
	}
}

func sessionConfig(cfg *config.Config) arm.Config {
	return arm.Config{
		Address:        cfg.Serial.Port,
		BaudRate:       cfg.Serial.BaudRate,
		ConfirmTimeout: cfg.ConfirmTimeout(),
		PollInterval:   cfg.PollInterval(),
		ReadyTimeout:   cfg.ReadyTimeout(),
		ReadyPoll:      cfg.ReadyPoll(),
		Settle:         cfg.Settle(),
		DefaultSpeed:   cfg.Arm.DefaultSpeed,
	}
}

func (a *app) openStore() (*store.File, error) {
	st, err := store.Open(a.cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	debug.Value("Store", st.Path())
	return st, nil
}

func (a *app) close() {
	a.gateway.StopSequence()
	if err := a.registry.CloseAll(); err != nil {
		debug.Error(fmt.Errorf("closing serial link: %w", err))
	}
}

// setup loads the config and wires the app from the global flags.
func setup() (*app, error) {
	cfg, err := loadConfig(&opts)
	if err != nil {
		return nil, err
	}
	return newApp(cfg), nil
}
