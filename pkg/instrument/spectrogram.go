package instrument

import "fmt"

// spectrogramFile is where the instrument stores the export before it is
// read back over the socket.
const spectrogramFile = `'C:\R_S\Instr\user\specan_spectrogram.csv'`

var spectrogramExport = []string{
	"DISP:WIND2:SUBW:SEL",
	"FORM:DEXP:DSEP POIN",
	"FORM:DEXP:FORM CSV",
	"FORM:DEXP:HEAD ON",
	"MMEM:STOR2:SGR " + spectrogramFile,
}

// ClearSpectrogram discards the spectrogram history of the real-time
// measurement.
func (d *Driver) ClearSpectrogram() error {
	return d.write("CALC2:SGR:CLE:IMM")
}

// ExportSpectrogram stores the spectrogram history as CSV on the instrument
// and returns the file content.
func (d *Driver) ExportSpectrogram() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transport == nil {
		return nil, ErrNotConnected
	}

	for _, cmd := range spectrogramExport {
		d.logger.Debugf("Write: %s", cmd)
		if err := d.transport.Write(cmd); err != nil {
			return nil, fmt.Errorf("failed to export spectrogram: %w", err)
		}
	}

	data, err := d.transport.QueryBlock("MMEM:DATA? " + spectrogramFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read spectrogram: %w", err)
	}
	d.logger.Infof("Exported spectrogram (%d bytes)", len(data))
	return data, nil
}
