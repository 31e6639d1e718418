package instrument

import (
	"fmt"
	"strconv"
	"strings"
)

const traceQuery = "FORM ASC;:TRAC:DATA? TRACE1"

// Trace reads trace 1 of the current measurement in ASCII format.
func (d *Driver) Trace() ([]float64, error) {
	d.mu.Lock()
	if d.transport == nil {
		d.mu.Unlock()
		return nil, ErrNotConnected
	}
	resp, err := d.transport.Query(traceQuery)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}

	return parseTrace(resp)
}

func parseTrace(resp string) ([]float64, error) {
	resp = strings.TrimSpace(resp)
	if resp == "" {
		return []float64{}, nil
	}

	fields := strings.Split(resp, ",")
	trace := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid trace point %d: %q", i, f)
		}
		trace[i] = v
	}
	return trace, nil
}
