package k648x

import (
	"fmt"
	"io"
)

// Report writes the session's diagnostic summary. Verbose adds the link,
// the I/O counters and the initialization state.
func (s *Session) Report(w io.Writer, verbose bool) error {
	s.mu.Lock()
	stats, init := s.stats, s.initialized
	s.mu.Unlock()

	if _, err := fmt.Fprintf(w, "Keithley648x port: %s\n", s.cfg.Name); err != nil {
		return err
	}
	if !verbose {
		return nil
	}

	state := "IS NOT"
	if init {
		state = "IS"
	}
	_, err := fmt.Fprintf(w,
		"    model:      %s\n"+
			"    server:     %s\n"+
			"    address:    %s\n"+
			"    ioErrors:   %d\n"+
			"    writeReads: %d\n"+
			"    writeOnlys: %d\n"+
			"    support %s initialized\n",
		s.cfg.Variant, s.tr.Server(), s.tr.Address(),
		stats.IOErrors, stats.WriteReads, stats.WriteOnlys, state)
	return err
}
