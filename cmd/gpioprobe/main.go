// Command gpioprobe reads the gate switch pin once and reports its level.
package main

import (
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"github.com/cjeanneret/PrusaCam/internal/hw/gpio"
	"github.com/cjeanneret/PrusaCam/internal/logic/gate"
)

func main() {
	if err := newRootCmd(gpio.NewDriver).Execute(); err != nil {
		log.Fatalf("gpioprobe: %v", err)
	}
}

func newRootCmd(open gate.OpenDriverFunc) *cobra.Command {
	var (
		pin        int
		mock       bool
		activeHigh bool
	)
	cmd := &cobra.Command{
		Use:          "gpioprobe",
		Short:        "Read a switch pin once (input, pull-up) and print its level",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			drv, err := open(mock)
			if err != nil {
				return fmt.Errorf("%w: %v", gate.ErrGPIOInit, err)
			}
			defer drv.Close()
			return probe(cmd.OutOrStdout(), drv, pin, !activeHigh)
		},
	}
	cmd.Flags().IntVar(&pin, "pin", 17, "BCM pin of the switch")
	cmd.Flags().BoolVar(&mock, "mock", false, "use the mock GPIO driver")
	cmd.Flags().BoolVar(&activeHigh, "active-high", false, "evaluate the gate as active-high")
	return cmd
}

func probe(w io.Writer, drv gpio.Driver, pin int, activeLow bool) error {
	if pin < 0 {
		return fmt.Errorf("pin must be >= 0, got %d", pin)
	}
	if err := drv.SetupPin(pin, gpio.InputPullUp); err != nil {
		return fmt.Errorf("setup pin %d: %w", pin, err)
	}
	level, err := drv.ReadPin(pin)
	if err != nil {
		return fmt.Errorf("read pin %d: %w", pin, err)
	}
	fmt.Fprintf(w, "pin %d: %s (low=%v), capture permitted=%v\n",
		pin, level, level == gpio.Low, gate.Permitted(level, activeLow))
	return nil
}
