package setting

import "fmt"

// DisplaySetting is read-only. It is only ever queried.
type DisplaySetting struct {
	base
}

func NewDisplay(name string, measure Measure, modes []string, defValue, query string) *DisplaySetting {
	return &DisplaySetting{base: newBase(name, measure, modes, defValue, query)}
}

func (s *DisplaySetting) Kind() Kind { return KindDisplay }

func (s *DisplaySetting) CheckIfValidValue(string) bool { return false }

func (s *DisplaySetting) GetWriteSCPICommand(string) ([]string, error) {
	return nil, fmt.Errorf("%s is read-only: %w", s.name, ErrUnsupportedOperation)
}
