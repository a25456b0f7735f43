package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cjeanneret/ScaraGo/internal/config"
	"github.com/cjeanneret/ScaraGo/internal/debug"
	"github.com/cjeanneret/ScaraGo/internal/hw/arm"
	"github.com/cjeanneret/ScaraGo/internal/hw/gamepad"
	"github.com/cjeanneret/ScaraGo/internal/hw/gpio"
	"github.com/cjeanneret/ScaraGo/internal/hw/indicator"
	"github.com/cjeanneret/ScaraGo/internal/logic/geometry"
	"github.com/cjeanneret/ScaraGo/internal/logic/jog"
	"github.com/cjeanneret/ScaraGo/internal/logic/motion"
	"github.com/cjeanneret/ScaraGo/internal/telemetry"
	"github.com/cjeanneret/ScaraGo/internal/web"
)

type ServeCommand struct {
	Web     int  `short:"w" long:"web" description:"Web server port (default from config, 8080)"`
	Gamepad bool `long:"gamepad" description:"Jog the arm from the gamepad device in the config"`
}

func (c *ServeCommand) Execute(args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	if c.Web > 0 {
		a.cfg.Defaults.WebPort = c.Web
	}
	if c.Gamepad {
		a.cfg.Gamepad.Enabled = true
	}
	return serve(ctx, a)
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	session := a.gateway.Session()

	st, err := a.openStore()
	if err != nil {
		return err
	}

	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	session.AddObserver(broadcaster)

	step, total := 1, 3
	debug.Step(step, total, "Initializing busy indicator")
	if cfg.Indicator.BusyPin > 0 {
		stop, err := startIndicator(cfg, session)
		if err != nil {
			return err
		}
		defer stop()
	} else {
		debug.Verbose("No busy LED configured")
	}

	step++
	debug.Step(step, total, "Initializing telemetry")
	if cfg.MQTT.BrokerURL != "" {
		pub, err := telemetry.Dial(cfg.MQTT.BrokerURL, cfg.MQTT.Topic)
		if err != nil {
			// telemetry is optional
			debug.Warn("MQTT disabled: %v", err)
		} else {
			session.AddObserver(pub)
			defer pub.Close()
		}
	} else {
		debug.Verbose("No MQTT broker configured")
	}

	step++
	debug.Step(step, total, "Connecting to the arm")
	if err := a.gateway.Connect(ctx); err != nil {
		// requests reconnect on demand
		debug.Warn("Arm not reachable yet: %v", err)
	}

	if cfg.Gamepad.Enabled {
		go runGamepad(ctx, cfg, a.gateway)
	}

	h := web.NewHandlers(ctx, broadcaster, a.gateway, st, configView(cfg), nil)
	srv := web.NewServer(fmt.Sprintf(":%d", cfg.Defaults.WebPort), h)
	return srv.Run(ctx)
}

func startIndicator(cfg *config.Config, session *arm.Session) (func(), error) {
	drv, err := gpio.NewDriver(cfg.Indicator.MockGPIO)
	if err != nil {
		return nil, fmt.Errorf("init GPIO: %w", err)
	}
	led, err := indicator.NewBusyLED(drv, cfg.Indicator.BusyPin)
	if err != nil {
		_ = drv.Close()
		return nil, err
	}
	session.AddObserver(led)
	debug.Value("Busy LED pin", cfg.Indicator.BusyPin)

	return func() {
		if err := led.Off(); err != nil {
			debug.Error(fmt.Errorf("busy LED off: %w", err))
		}
		if err := drv.Close(); err != nil {
			debug.Error(fmt.Errorf("closing GPIO driver: %w", err))
		}
	}, nil
}

func runGamepad(ctx context.Context, cfg *config.Config, gw *motion.Gateway) {
	r, err := gamepad.Open(cfg.Gamepad.Device)
	if err != nil {
		debug.Warn("Gamepad disabled: %v", err)
		return
	}
	ctrl := jog.New(gw, cfg.Arm.DefaultSpeed)
	if err := gamepad.Listen(ctx, r, ctrl); err != nil && ctx.Err() == nil {
		debug.Error(fmt.Errorf("gamepad: %w", err))
	}
}

func configView(cfg *config.Config) web.ConfigView {
	return web.ConfigView{
		Port:         cfg.Serial.Port,
		Mock:         cfg.Serial.Mock,
		DefaultSpeed: cfg.Arm.DefaultSpeed,
		Arm1Range:    arm.Arm1Range,
		Arm2Range:    arm.Arm2Range,
		BaseRange:    arm.BaseRange,
		SpeedRange:   arm.SpeedRange,
		Link1Mm:      cfg.Arm.Link1Mm,
		Link2Mm:      cfg.Arm.Link2Mm,
		MaxReachMm:   geometry.NewKinematics(cfg).MaxReach(),
	}
}
