package diretta

import (
	"fmt"
	"io"
)

// ListTargets discovers targets and prints a numbered summary, one
// entry per target, with the per-target MTU measurement.
func ListTargets(w io.Writer) error {
	finder, err := platformFinder()
	if err != nil {
		return err
	}
	return listTargets(w, finder)
}

func listTargets(w io.Writer, finder Finder) error {
	if !finder.Open() {
		return fmt.Errorf("diretta: finder open failed (root privileges may be required)")
	}
	defer finder.Close()

	targets := finder.FindOutputs()
	if len(targets) == 0 {
		fmt.Fprintln(w, "No Diretta targets found.")
		return ErrNoTargets
	}

	fmt.Fprintf(w, "Available Diretta targets (%d found):\n\n", len(targets))
	for i, target := range targets {
		fmt.Fprintf(w, "[%d] %s\n", i+1, target.Name)
		if target.OutputName != "" {
			fmt.Fprintf(w, "    Output: %s\n", target.OutputName)
		}
		fmt.Fprintf(w, "    Address: %s\n", target.Address)
		if mtu, ok := finder.MeasureSendMTU(target.Address); ok {
			fmt.Fprintf(w, "    MTU: %d", mtu)
			if mtu >= 9000 {
				fmt.Fprint(w, " (jumbo frames)")
			}
			fmt.Fprintln(w)
		}
		if target.ProductID != 0 {
			fmt.Fprintf(w, "    ProductID: 0x%x\n", target.ProductID)
		}
		if target.Version != 0 {
			fmt.Fprintf(w, "    Version: %d\n", target.Version)
		}
		if target.Multiport {
			fmt.Fprintln(w, "    Multiport: enabled")
		}
		fmt.Fprintln(w)
	}
	return nil
}
