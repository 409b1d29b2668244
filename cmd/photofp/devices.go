package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/photofingerprint/internal/fingerprint/kernel"
	"github.com/cwbudde/photofingerprint/internal/gpu"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List compute devices and their dispatch capability",
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	device := kernel.NewSoftwareDevice(cfg.Device())
	k := kernel.NewKernel(device, kernel.WithLogger(logger))
	defer k.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BACKEND\tDEVICE\tVERSION\tCAPABILITY\tGROUP")
	fmt.Fprintln(w, "-------\t------\t-------\t----------\t-----")

	if g, err := k.Geometry(1, 1); err == nil {
		fmt.Fprintf(w, "software\t%d workers\t-\t%s\t%dx%d\n", device.Config().Workers, k.Capability(), g.Group.X, g.Group.Y)
	} else {
		fmt.Fprintf(w, "software\t-\t-\t%s\tunavailable: %v\n", k.Capability(), err)
	}

	platforms, err := gpu.EnumeratePlatforms()
	switch {
	case errors.Is(err, gpu.ErrNotBuilt):
		fmt.Fprintln(w, "opencl\t-\t-\t-\tnot built (use -tags gpu)")
	case err != nil:
		fmt.Fprintf(w, "opencl\t-\t-\t-\t%v\n", err)
	default:
		for _, p := range platforms {
			for _, d := range p.Devices {
				fmt.Fprintf(w, "opencl\t%s (%s)\t%s / %s\t%s\t<=%d\n",
					d.Name, d.Type, d.Version, d.CVersion, kernel.CapabilityForDevice(d), d.MaxWorkGroupSize)
			}
		}
	}
	return w.Flush()
}
