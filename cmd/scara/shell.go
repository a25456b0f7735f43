package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/cjeanneret/ScaraGo/internal/debug"
	"github.com/cjeanneret/ScaraGo/internal/hw/arm"
	"github.com/cjeanneret/ScaraGo/internal/logic/jog"
	"github.com/cjeanneret/ScaraGo/internal/logic/motion"
	"github.com/cjeanneret/ScaraGo/internal/store"
)

const shellPrompt = "scara> "

type ShellCommand struct {
	Args struct {
		Command []string `positional-arg-name:"command"`
	} `positional-args:"yes"`
}

func (c *ShellCommand) Execute(args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	st, err := a.openStore()
	if err != nil {
		return err
	}
	con := newConsole(ctx, a.gateway, st)

	if len(c.Args.Command) > 0 {
		return con.shell.Process(c.Args.Command...)
	}
	con.shell.Println(headerStyle.Render("ScaraGo shell") + dimStyle.Render(" (type help)"))
	con.shell.Run()
	return nil
}

// console binds ishell commands to one gateway.
type console struct {
	ctx   context.Context
	gw    *motion.Gateway
	st    *store.File
	jog   *jog.Controller
	shell *ishell.Shell
}

func newConsole(ctx context.Context, gw *motion.Gateway, st *store.File) *console {
	c := &console{
		ctx:   ctx,
		gw:    gw,
		st:    st,
		jog:   jog.New(gw, gw.DefaultSpeed()),
		shell: ishell.New(),
	}
	c.shell.SetPrompt(shellPrompt)
	for _, cmd := range c.commands() {
		c.shell.AddCmd(cmd)
	}
	return c
}

// withArm reconnects once when the link is down before running fn.
func (c *console) withArm(fn func(ic *ishell.Context) error) func(ic *ishell.Context) {
	return func(ic *ishell.Context) {
		if err := c.gw.EnsureConnected(c.ctx); err != nil {
			ic.Err(err)
			return
		}
		if err := fn(ic); err != nil {
			ic.Err(err)
			return
		}
		ic.Println(successStyle.Render("OK ") + c.gw.LastPosition().String())
	}
}

func (c *console) commands() []*ishell.Cmd {
	return []*ishell.Cmd{
		{
			Name: "status",
			Help: "show link state and last confirmed position",
			Func: func(ic *ishell.Context) {
				ic.Println(formatStatus(c.gw.Status()))
			},
		},
		{
			Name: "connect",
			Help: "open the serial link",
			Func: func(ic *ishell.Context) {
				if err := c.gw.Connect(c.ctx); err != nil {
					ic.Err(err)
					return
				}
				ic.Println(formatStatus(c.gw.Status()))
			},
		},
		{
			Name:    "move",
			Aliases: []string{"m"},
			Help:    "ARM1 ARM2 BASE [GRIPPER(0|1)] [SPEED]",
			Func: c.withArm(func(ic *ishell.Context) error {
				req, err := parseMoveArgs(ic.Args)
				if err != nil {
					return err
				}
				return c.gw.Move(c.ctx, req)
			}),
		},
		{
			Name: "home",
			Help: "move to 0,0,0 with the gripper open",
			Func: c.withArm(func(ic *ishell.Context) error {
				return c.gw.Home(c.ctx)
			}),
		},
		{
			Name: "open",
			Help: "open the gripper",
			Func: c.withArm(func(ic *ishell.Context) error {
				return c.gw.OpenGripper(c.ctx)
			}),
		},
		{
			Name: "close",
			Help: "close the gripper",
			Func: c.withArm(func(ic *ishell.Context) error {
				return c.gw.CloseGripper(c.ctx)
			}),
		},
		{
			Name: "toggle",
			Help: "toggle the gripper",
			Func: c.withArm(func(ic *ishell.Context) error {
				return c.gw.ToggleGripper(c.ctx)
			}),
		},
		{
			Name:    "jog",
			Aliases: []string{"j"},
			Help:    "ACTION [COUNT] - " + strings.Join(jog.Actions(), ", "),
			Func: c.withArm(func(ic *ishell.Context) error {
				return c.runJog(ic.Args)
			}),
		},
		{
			Name: "positions",
			Help: "list saved positions",
			Func: func(ic *ishell.Context) {
				ic.Println(positionsTable(c.st.Positions()))
			},
		},
		{
			Name: "save",
			Help: "NAME - save the current position",
			Func: func(ic *ishell.Context) {
				if len(ic.Args) < 1 {
					ic.Err(errors.New("NAME required"))
					return
				}
				np := store.NamedPosition{Name: strings.Join(ic.Args, " "), Position: c.gw.LastPosition()}
				if err := c.st.SavePosition(np); err != nil {
					ic.Err(err)
					return
				}
				ic.Printf("saved %q\n", np.Name)
			},
		},
		{
			Name:    "goto",
			Aliases: []string{"g"},
			Help:    "NAME - move to a saved position",
			Func: c.withArm(func(ic *ishell.Context) error {
				if len(ic.Args) < 1 {
					return errors.New("NAME required")
				}
				np, err := c.st.Position(strings.Join(ic.Args, " "))
				if err != nil {
					return err
				}
				return c.gw.MoveTo(c.ctx, np.Position)
			}),
		},
		{
			Name: "play",
			Help: "NAME - play a saved sequence",
			Func: c.withArm(func(ic *ishell.Context) error {
				if len(ic.Args) < 1 {
					return errors.New("NAME required")
				}
				return runPlay(c.ctx, c.gw, c.st, strings.Join(ic.Args, " "))
			}),
		},
	}
}

// runJog performs a jog action count times, stopping at the first error.
func (c *console) runJog(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("ACTION required, one of: %s", strings.Join(jog.Actions(), ", "))
	}
	action, err := jog.ParseAction(args[0])
	if err != nil {
		return err
	}
	count := 1
	if len(args) > 1 {
		if count, err = strconv.Atoi(args[1]); err != nil || count < 1 {
			return fmt.Errorf("invalid COUNT %q", args[1])
		}
	}
	for i := 0; i < count; i++ {
		if err := c.jog.Do(c.ctx, action); err != nil {
			return err
		}
	}
	debug.Verbose("Jog increment %g, speed %d", c.jog.Increment(), c.jog.Speed())
	return nil
}

// parseMoveArgs reads "ARM1 ARM2 BASE [GRIPPER] [SPEED]".
func parseMoveArgs(args []string) (motion.Request, error) {
	if len(args) < 3 || len(args) > 5 {
		return motion.Request{}, errors.New("usage: move ARM1 ARM2 BASE [GRIPPER(0|1)] [SPEED]")
	}
	names := []string{"arm1", "arm2", "base", "gripper", "speed"}
	vals := make([]*float64, len(args))
	for i, s := range args {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return motion.Request{}, &arm.ValidationError{Field: names[i], Reason: fmt.Sprintf("%q is not a number", s)}
		}
		vals[i] = &v
	}

	req := motion.Request{Arm1: vals[0], Arm2: vals[1], Base: vals[2]}
	if len(vals) > 3 {
		req.Gripper = *vals[3]
	}
	if len(vals) > 4 {
		req.Speed = vals[4]
	}
	return req, nil
}

func formatStatus(st motion.Status) string {
	link := errorStyle.Render("disconnected")
	switch {
	case st.Connected && st.ReadyConfirmed:
		link = successStyle.Render("connected")
	case st.Connected:
		link = warnStyle.Render("connected (unconfirmed)")
	}
	busy := "idle"
	if st.Busy {
		busy = warnStyle.Render("busy")
	}
	p := st.LastPosition
	var b strings.Builder
	fmt.Fprintf(&b, "%s, %s\n", link, busy)
	fmt.Fprintf(&b, "  arm1 %g°  arm2 %g°  base %gcm  speed %d\n", p.Arm1, p.Arm2, p.Base, p.Speed)
	fmt.Fprintf(&b, "  gripper %s\n", st.GripperState)
	fmt.Fprintf(&b, "  tool x=%gmm y=%gmm", st.Tool.X, st.Tool.Y)
	if st.Sequence.Name != "" {
		fmt.Fprintf(&b, "\n  sequence %s %d/%d", st.Sequence.Name, st.Sequence.Index, st.Sequence.Total)
		if st.Sequence.Running {
			b.WriteString(" running")
		}
	}
	return b.String()
}
