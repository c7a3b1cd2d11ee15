/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blacktop/go-hvloader"
)

// CycleResult is the JSON document printed by the cycle command.
type CycleResult struct {
	BringUp  hvloader.PassReport `json:"bring_up"`
	TearDown hvloader.PassReport `json:"tear_down"`
	Metrics  hvloader.Metrics    `json:"metrics"`
	Error    string              `json:"error,omitempty"`
}

var (
	holdFor   time.Duration
	withTrace bool
)

func init() {
	rootCmd.AddCommand(cycleCmd)
	cycleCmd.Flags().DurationVar(&holdFor, "hold", 0, "Time to stay loaded before tearing down")
	cycleCmd.Flags().BoolVar(&withTrace, "trace", false, "Include the per-pass worker trace in the output")
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Bring the probe runtime up on every processor, then tear it down",
	Long: `Run one full bring-up pass and one teardown pass with the built-in probe
runtime. The probe validates every buffer handed to it (size, zero fill,
page-aligned physical address) without entering virtualization, which makes
this a dry run of the real load path: affinity binding, locked contiguous
allocation and physical address resolution all happen for real.

Requires root. Results are printed as JSON to stdout.`,
	RunE: runCycle,
}

func runCycle(cmd *cobra.Command, args []string) error {
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	opts.Logger = &logger

	rt := hvloader.NewProbeRuntime(opts.LaunchBufferSize, opts.ControlBufferSize)
	ldr, err := hvloader.New(rt, opts)
	if err != nil {
		return err
	}

	result, cycleErr := cycle(ldr, holdFor)
	if !withTrace {
		result.BringUp.Trace = nil
		result.TearDown.Trace = nil
	}

	if cfg.Metrics.Textfile != "" {
		if err := writeMetrics(cfg.Metrics.Textfile); err != nil {
			logger.Warn().Err(err).Str("path", cfg.Metrics.Textfile).Msg("failed to write metrics")
		}
	}

	output, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Println(string(output))
	return cycleErr
}

// cycle runs BringUp, waits hold, then TearDown. A failed bring-up has
// already torn itself down, so TearDown only runs after a success.
func cycle(ldr *hvloader.Loader, hold time.Duration) (*CycleResult, error) {
	result := &CycleResult{}

	err := ldr.BringUp()
	result.BringUp = ldr.Report(hvloader.PhaseLoad)
	if err == nil {
		if hold > 0 {
			time.Sleep(hold)
		}
		err = ldr.TearDown()
	}
	result.TearDown = ldr.Report(hvloader.PhaseUnload)
	result.Metrics = hvloader.GetMetrics()

	if err != nil {
		result.Error = err.Error()
		if errors.Is(err, hvloader.ErrWorkerSignalTimeout) {
			return result, fmt.Errorf("pass aborted, processors may be left loaded: %w", err)
		}
	}
	return result, err
}
