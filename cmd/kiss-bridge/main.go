package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigbag/kiss-bridge/internal/bridge"
	"github.com/bigbag/kiss-bridge/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit statuses for a failed run.
const (
	exitSetup      = 1
	exitDeviceEOF  = 2
	exitDescriptor = 3
	exitIO         = 4
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kiss-bridge",
		Short: "Bridge a serial KISS/SLIP link to a UDP endpoint",
		Long: `kiss-bridge carries packets between a serial device speaking SLIP/KISS
framing and a UDP endpoint.

Every datagram received on the local address is written to the device as one
frame. Every frame read from the device is sent as one datagram to the
destination address. Without a device the bridge runs against an internal
loopback, echoing datagrams back to the destination.`,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "kiss-bridge %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	rootCmd.AddCommand(newRunCmd(), listCmd, versionCmd)
	return rootCmd
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(ports) == 0 {
		fmt.Fprintln(out, "No serial ports found")
		return nil
	}

	fmt.Fprintln(out, "Available serial ports:")
	for _, p := range ports {
		fmt.Fprintf(out, "  %s\n", p)
	}
	return nil
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, bridge.ErrDeviceClosed):
		return exitDeviceEOF
	case errors.Is(err, bridge.ErrDescriptor):
		return exitDescriptor
	case errors.Is(err, bridge.ErrDevice), errors.Is(err, errLoop):
		return exitIO
	default:
		return exitSetup
	}
}
