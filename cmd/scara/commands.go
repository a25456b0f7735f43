package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/cjeanneret/ScaraGo/internal/hw/arm"
	"github.com/cjeanneret/ScaraGo/internal/hw/serialport"
	"github.com/cjeanneret/ScaraGo/internal/logic/motion"
	"github.com/cjeanneret/ScaraGo/internal/logic/sequence"
	"github.com/cjeanneret/ScaraGo/internal/store"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// connected wires the app and opens the link, then runs fn.
func connected(fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.gateway.Connect(ctx); err != nil {
		return err
	}
	printLink(a.gateway.Status().Status)
	return fn(ctx, a)
}

func printLink(st arm.Status) {
	if st.ReadyConfirmed {
		fmt.Println(successStyle.Render("Board ready"))
		return
	}
	fmt.Println(warnStyle.Render("Connected, but the board did not report ready; state unconfirmed"))
}

func printPosition(p arm.Position) {
	fmt.Printf("%s arm1=%g° arm2=%g° base=%gcm gripper=%s speed=%d\n",
		successStyle.Render("✓"), p.Arm1, p.Arm2, p.Base, p.GripperText(), p.Speed)
}

// ---------- move ----------

type MoveCommand struct {
	Arm1   float64 `long:"arm1" required:"yes" description:"Shoulder angle in degrees (-90..90)"`
	Arm2   float64 `long:"arm2" required:"yes" description:"Elbow angle in degrees, relative to arm1 (-120..60)"`
	Base   float64 `long:"base" required:"yes" description:"Vertical axis in cm (-12.5..12.5)"`
	Closed bool    `short:"g" long:"grip" description:"Close the gripper"`
	Speed  float64 `short:"s" long:"speed" description:"Speed in steps/s (100..2000, default from config)"`
}

func (c *MoveCommand) Execute(args []string) error {
	return connected(func(ctx context.Context, a *app) error {
		return runMove(ctx, a.gateway, c)
	})
}

func runMove(ctx context.Context, gw *motion.Gateway, c *MoveCommand) error {
	req := motion.Request{Arm1: &c.Arm1, Arm2: &c.Arm2, Base: &c.Base, Gripper: c.Closed}
	if c.Speed != 0 {
		req.Speed = &c.Speed
	}
	if err := gw.Move(ctx, req); err != nil {
		return err
	}
	printPosition(gw.LastPosition())
	return nil
}

// ---------- home ----------

type HomeCommand struct{}

func (c *HomeCommand) Execute(args []string) error {
	return connected(func(ctx context.Context, a *app) error {
		if err := a.gateway.Home(ctx); err != nil {
			return err
		}
		printPosition(a.gateway.LastPosition())
		return nil
	})
}

// ---------- gripper ----------

type GripperCommand struct {
	Args struct {
		Action string `positional-arg-name:"action" choice:"open" choice:"close" choice:"toggle"`
	} `positional-args:"yes" required:"yes"`
}

func (c *GripperCommand) Execute(args []string) error {
	return connected(func(ctx context.Context, a *app) error {
		return runGripper(ctx, a.gateway, c.Args.Action)
	})
}

func runGripper(ctx context.Context, gw *motion.Gateway, action string) error {
	var err error
	switch action {
	case "open":
		err = gw.OpenGripper(ctx)
	case "close":
		err = gw.CloseGripper(ctx)
	case "toggle":
		err = gw.ToggleGripper(ctx)
	default:
		return &arm.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown gripper action %q", action)}
	}
	if err != nil {
		return err
	}
	printPosition(gw.LastPosition())
	return nil
}

// ---------- play ----------

type PlayCommand struct {
	Args struct {
		Name string `positional-arg-name:"sequence"`
	} `positional-args:"yes" required:"yes"`
}

func (c *PlayCommand) Execute(args []string) error {
	return connected(func(ctx context.Context, a *app) error {
		st, err := a.openStore()
		if err != nil {
			return err
		}
		return runPlay(ctx, a.gateway, st, c.Args.Name)
	})
}

func runPlay(ctx context.Context, gw *motion.Gateway, st *store.File, name string) error {
	seq, err := st.Sequence(name, gw.DefaultSpeed())
	if err != nil {
		return err
	}
	if err := gw.StartSequence(seq); err != nil {
		return err
	}
	fmt.Println(headerStyle.Render(fmt.Sprintf("Sequence %s", seq.Name)) +
		dimStyle.Render(fmt.Sprintf(" (%d steps)", seq.Len())))

	failed := 0
	err = gw.RunSequence(ctx, func(r sequence.StepResult) {
		switch r.Status {
		case sequence.StatusSuccess:
			fmt.Printf("%s %d/%d %s\n", successStyle.Render("✓"), r.Index, r.Total, r.Position)
		case sequence.StatusFailed:
			failed++
			fmt.Printf("%s %d/%d %s: %s\n", errorStyle.Render("✗"), r.Index, r.Total, r.Position, r.Message)
		default:
			fmt.Println(dimStyle.Render(fmt.Sprintf("%s at %d/%d", r.Status, r.Index, r.Total)))
		}
	})
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d steps failed", failed, seq.Len())
	}
	return nil
}

// ---------- positions ----------

type PositionsCommand struct{}

func (c *PositionsCommand) Execute(args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	st, err := a.openStore()
	if err != nil {
		return err
	}
	fmt.Println(positionsTable(st.Positions()))
	return nil
}

func positionsTable(positions []store.NamedPosition) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("NAME", "ARM1", "ARM2", "BASE", "GRIPPER", "SPEED")
	for _, p := range positions {
		speed := "default"
		if p.Speed != 0 {
			speed = strconv.Itoa(p.Speed)
		}
		t.Row(p.Name, fmt.Sprintf("%g", p.Arm1), fmt.Sprintf("%g", p.Arm2),
			fmt.Sprintf("%g", p.Base), p.GripperText(), speed)
	}
	return t.Render()
}

// ---------- ports ----------

type PortsCommand struct{}

func (c *PortsCommand) Execute(args []string) error {
	ports, err := serialport.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		fmt.Println(dimStyle.Render("Make sure the board is plugged in, or use --mock."))
		return nil
	}
	fmt.Println(portsTable(ports))
	return nil
}

func portsTable(ports []string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("#", "PORT", "STATE")
	for i, p := range ports {
		state := "free"
		if serialport.InUse(p) {
			state = "in use"
		}
		t.Row(strconv.Itoa(i+1), p, state)
	}
	return t.Render()
}
