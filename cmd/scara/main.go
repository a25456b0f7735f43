package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

// Options are the global flags shared by every command.
type Options struct {
	Config string `short:"c" long:"config" default:"configs/default.yaml" description:"Path to config file"`
	Port   string `short:"p" long:"port" description:"Serial port of the controller board (overrides config)"`
	Mock   bool   `long:"mock" description:"Use the simulated board instead of a serial port"`
	Debug  int    `short:"d" long:"debug" default:"-1" description:"Debug level 0-4 (overrides config)"`

	Serve     ServeCommand     `command:"serve" description:"Start the web control panel"`
	Move      MoveCommand      `command:"move" description:"Send one position and wait for the board to confirm it"`
	Home      HomeCommand      `command:"home" description:"Move to 0,0,0 with the gripper open"`
	Gripper   GripperCommand   `command:"gripper" description:"Open, close or toggle the gripper"`
	Play      PlayCommand      `command:"play" description:"Play a saved sequence to its end"`
	Positions PositionsCommand `command:"positions" description:"List saved positions"`
	Ports     PortsCommand     `command:"ports" description:"List serial ports present on this machine"`
	Shell     ShellCommand     `command:"shell" alias:"sh" description:"Interactive control shell"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "ScaraGo - control a SCARA arm over its serial command protocol"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
