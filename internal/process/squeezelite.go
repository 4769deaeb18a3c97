package process

import "strconv"

// SqueezeliteOptions are the passthrough player settings; they map
// directly onto the child's command line.
type SqueezeliteOptions struct {
	BinaryPath string
	Server     string // LMS address, host[:port]
	Name       string // player name announced to LMS
	MAC        string // player MAC override
	Model      string // model name
	Codecs     string // codec restriction list
	Rates      string // supported sample rates
	Depth      int    // output sample format: 16, 24 or 32
	WavHeader  bool   // read wave/aiff format from file header
	DSD        bool   // enable DSD output
	DSDFormat  string // "u32be", "u32le" or "dop"
	Verbose    bool
}

// defaultRates is the full range a Diretta target can take.
const defaultRates = "44100-768000"

// Args builds the child argv. The patched squeezelite writes S32_LE
// audio with in-band SQFH headers to stdout, so output is always "-".
func (o SqueezeliteOptions) Args() []string {
	binary := o.BinaryPath
	if binary == "" {
		binary = "squeezelite"
	}

	argv := []string{binary, "-o", "-"}

	rates := o.Rates
	if rates == "" {
		rates = defaultRates
	}
	argv = append(argv, "-r", rates)

	if o.Name != "" {
		argv = append(argv, "-n", o.Name)
	}
	if o.Model != "" {
		argv = append(argv, "-M", o.Model)
	}
	if o.Server != "" {
		argv = append(argv, "-s", o.Server)
	}
	if o.MAC != "" {
		argv = append(argv, "-m", o.MAC)
	}
	if o.Codecs != "" {
		argv = append(argv, "-c", o.Codecs)
	}
	if o.Depth != 0 {
		argv = append(argv, "-a", strconv.Itoa(o.Depth))
	}
	if o.WavHeader {
		argv = append(argv, "-W")
	}
	if o.DSD {
		if o.DSDFormat != "" {
			argv = append(argv, "-D", ":"+o.DSDFormat)
		} else {
			argv = append(argv, "-D")
		}
	}
	if o.Verbose {
		argv = append(argv, "-d", "all=info")
	}
	return argv
}
