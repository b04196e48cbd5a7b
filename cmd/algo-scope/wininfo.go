package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/algo-scope/dsp/window"
)

type windowEntry struct {
	name string
	typ  window.Type
}

var registry = []windowEntry{
	{"rectangular", window.TypeRectangular},
	{"hann", window.TypeHann},
	{"hamming", window.TypeHamming},
	{"blackman", window.TypeBlackman},
	{"flat-top", window.TypeFlatTop},
}

func newWininfoCmd() *cobra.Command {
	var (
		size     int
		periodic bool
		list     bool
	)

	cmd := &cobra.Command{
		Use:   "wininfo [window-name ...]",
		Short: "Print spectral properties and dB corrections of window functions",
		Example: `  algo-scope wininfo hann
  algo-scope wininfo --size 4096 hann blackman
  algo-scope wininfo --list`,
		// The window table needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list {
				printList(out)
				return nil
			}

			entries, err := resolveEntries(args)
			if err != nil {
				return err
			}

			var opts []window.Option
			if periodic {
				opts = append(opts, window.WithPeriodic())
			}
			return printAnalysis(out, entries, size, opts)
		},
	}

	cmd.Flags().IntVar(&size, "size", 1024, "window length in samples")
	cmd.Flags().BoolVar(&periodic, "periodic", false, "use periodic (FFT) form instead of symmetric")
	cmd.Flags().BoolVar(&list, "list", false, "list available window names")

	return cmd
}

func printList(w io.Writer) {
	names := make([]string, len(registry))
	for i, e := range registry {
		names[i] = e.name
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintln(w, n)
	}
}

// resolveEntries maps names to registry entries. No names selects all.
func resolveEntries(names []string) ([]windowEntry, error) {
	if len(names) == 0 {
		return registry, nil
	}

	byName := make(map[string]windowEntry, len(registry))
	for _, e := range registry {
		byName[e.name] = e
	}

	result := make([]windowEntry, 0, len(names))
	for _, name := range names {
		e, ok := byName[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown window %q (use --list to see available)", name)
		}
		result = append(result, e)
	}
	return result, nil
}

func printAnalysis(w io.Writer, entries []windowEntry, size int, opts []window.Option) error {
	if size <= 0 {
		return fmt.Errorf("window size must be > 0: %d", size)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Window\tSize\tCoherent Gain\tENBW [bins]\tCorrection [dB]\n")
	fmt.Fprintf(tw, "------\t----\t-------------\t-----------\t---------------\n")

	for _, e := range entries {
		coeffs := window.Generate(e.typ, size, opts...)

		enbw, err := window.EquivalentNoiseBandwidth(coeffs)
		if err != nil {
			return fmt.Errorf("%s: %w", e.name, err)
		}
		corr, err := window.CorrectionDB(coeffs)
		if err != nil {
			return fmt.Errorf("%s: %w", e.name, err)
		}

		sum := 0.0
		for _, c := range coeffs {
			sum += c
		}

		fmt.Fprintf(tw, "%s\t%d\t%.6f\t%.4f\t%.4f\n", e.name, size, sum/float64(size), enbw, corr)
	}
	return tw.Flush()
}
