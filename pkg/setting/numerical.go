package setting

import "fmt"

// NumericalSetting takes any real number, written as "<write command> <value>".
type NumericalSetting struct {
	base
	write string
}

func NewNumerical(name string, measure Measure, modes []string, defValue, write, query string) *NumericalSetting {
	return &NumericalSetting{
		base:  newBase(name, measure, modes, defValue, query),
		write: write,
	}
}

func (s *NumericalSetting) Kind() Kind { return KindNumerical }

func (s *NumericalSetting) WriteCommand() string { return s.write }

func (s *NumericalSetting) CheckIfValidValue(value string) bool {
	return IsNumber(value)
}

// GetWriteSCPICommand appends value to the write command. A write command
// holding several ';' separated headers expands to one command per header,
// with value attached to the last.
func (s *NumericalSetting) GetWriteSCPICommand(value string) ([]string, error) {
	if !s.CheckIfValidValue(value) {
		return nil, fmt.Errorf("%s: %w: %q", s.name, ErrInvalidValue, value)
	}
	return splitCommands(s.write + " " + value), nil
}
