// Package simulator provides an in-memory spectrum analyzer that answers SCPI
// commands the way the configured device would.
package simulator

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"specan/pkg/registry"
	"specan/pkg/setting"

	log "github.com/sirupsen/logrus"
)

const DefaultIdentity = "Rohde&Schwarz,FSW-43,1312.8000K43/000000,simulated"

var (
	ErrUndefinedHeader = errors.New("undefined header")
	ErrFileNotFound    = errors.New("file not found")
)

// defaultHistoryDepth is the number of spectrogram frames kept when the
// configuration has no CALC2:SGR:HDEP setting.
const defaultHistoryDepth = 3000

// effect is what a mode setting command does to the instrument state: it
// stores an option under the setting's query header.
type effect struct {
	header string
	value  string
}

// Analyzer is a simulated instrument. It is safe for concurrent use.
type Analyzer struct {
	logger log.FieldLogger

	mu         sync.Mutex
	identity   string
	mode       string
	sweeps     int
	scientific bool
	values     map[string]string
	defaults   map[string]string
	effects    map[string]effect
	overrides  map[string]string
	failures   map[string]error
	commands   []string
	trace      []float64
	frames     [][]float64 // spectrogram history, newest last
	files      map[string][]byte
}

func NewAnalyzer(identity string, logger log.FieldLogger) *Analyzer {
	if identity == "" {
		identity = DefaultIdentity
	}
	a := Analyzer{
		logger:    logger.WithField("component", "simulator"),
		identity:  identity,
		values:    make(map[string]string),
		defaults:  make(map[string]string),
		effects:   make(map[string]effect),
		overrides: make(map[string]string),
		failures:  make(map[string]error),
		files:     make(map[string][]byte),
		trace:     defaultTrace(1001),
	}
	return &a
}

// defaultTrace is a flat noise floor with a single carrier in the middle.
func defaultTrace(points int) []float64 {
	trace := make([]float64, points)
	for i := range trace {
		d := float64(i-points/2) / 8
		trace[i] = -90 + 70*math.Exp(-d*d)
	}
	return trace
}

// Load primes the simulator from a device configuration: every setting starts
// at its default value and every mode setting command stores its option, so
// that queries answer with the same strings the configuration expects.
func (a *Analyzer) Load(cfg registry.DeviceConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.mode = cfg.DefaultMode
	for _, sc := range cfg.Settings {
		header := normalize(strings.TrimSuffix(sc.QueryCommand, "?"))
		if header == "" {
			continue
		}

		def := sc.DefaultValue
		if canonical, ok := sc.Alias[def]; ok {
			def = canonical
		}
		a.defaults[header] = def
		a.values[header] = def

		if setting.Kind(sc.SettingType) != setting.KindMode {
			continue
		}
		for option, cmd := range sc.WriteCommands {
			parts := splitMessage(cmd)
			if len(parts) == 0 {
				continue
			}
			a.effects[normalize(parts[len(parts)-1])] = effect{header: header, value: option}
		}
	}
}

// SetIdentity changes the *IDN? answer.
func (a *Analyzer) SetIdentity(identity string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.identity = identity
}

// SetScientific makes numeric answers use exponent notation, as most
// instruments do.
func (a *Analyzer) SetScientific(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scientific = on
}

// FailOn makes any command exactly equal to cmd fail with err. A nil err
// removes the failure.
func (a *Analyzer) FailOn(cmd string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		delete(a.failures, cmd)
		return
	}
	a.failures[cmd] = err
}

// Override fixes the answer to query regardless of the stored state.
func (a *Analyzer) Override(query, answer string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.overrides[query] = answer
}

// SetTrace replaces the trace returned by TRAC:DATA?.
func (a *Analyzer) SetTrace(trace []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trace = append([]float64(nil), trace...)
}

// Commands returns every command received, in order.
func (a *Analyzer) Commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.commands...)
}

func (a *Analyzer) Mode() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

func (a *Analyzer) Sweeps() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sweeps
}

// Frames returns the number of spectrogram frames recorded since the last
// clear.
func (a *Analyzer) Frames() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.frames)
}

// File returns the content of a file stored on the instrument.
func (a *Analyzer) File(name string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.files[unquote(name)]
	return data, ok
}

// Value returns the stored value for a header such as "FREQ:CENT".
func (a *Analyzer) Value(header string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.values[normalize(header)]
	return v, ok
}

func (a *Analyzer) Write(cmd string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.commands = append(a.commands, cmd)
	if err, ok := a.failures[cmd]; ok {
		return err
	}

	for _, part := range splitMessage(cmd) {
		a.apply(part)
	}
	return nil
}

func (a *Analyzer) Query(cmd string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.commands = append(a.commands, cmd)
	if err, ok := a.failures[cmd]; ok {
		return "", err
	}
	if answer, ok := a.overrides[cmd]; ok {
		return answer, nil
	}

	parts := splitMessage(cmd)
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: empty query", ErrUndefinedHeader)
	}
	for _, part := range parts[:len(parts)-1] {
		a.apply(part)
	}

	last := parts[len(parts)-1]
	i := strings.Index(last, "?")
	if i < 0 {
		a.apply(last)
		return "", fmt.Errorf("%w: %q is not a query", ErrUndefinedHeader, cmd)
	}
	header := normalize(last[:i])

	switch header {
	case "*IDN":
		return a.identity, nil
	case "*OPC":
		return "1", nil
	case "INST":
		return a.mode, nil
	case "TRAC:DATA", "TRAC":
		return a.formatTrace(), nil
	case "SWE:COUN:CURR":
		return strconv.Itoa(a.sweeps), nil
	case "MMEM:DATA":
		data, err := a.fileLocked(last[i+1:])
		if err != nil {
			return "", err
		}
		return encodeBlock(data), nil
	}

	v, ok := a.values[header]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUndefinedHeader, header)
	}
	return a.format(v), nil
}

// QueryBlock answers MMEM:DATA? with the raw file content.
func (a *Analyzer) QueryBlock(cmd string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.commands = append(a.commands, cmd)
	if err, ok := a.failures[cmd]; ok {
		return nil, err
	}

	header, arg, ok := strings.Cut(cmd, "?")
	if !ok || normalize(header) != "MMEM:DATA" {
		return nil, fmt.Errorf("%w: %q is not a block query", ErrUndefinedHeader, cmd)
	}
	return a.fileLocked(arg)
}

func (a *Analyzer) fileLocked(arg string) ([]byte, error) {
	name := unquote(arg)
	data, ok := a.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return append([]byte(nil), data...), nil
}

// Identify answers *IDN? without recording a command.
func (a *Analyzer) Identify() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity, nil
}

func (a *Analyzer) Close() error {
	return nil
}

// apply executes a single program message unit (caller must hold a.mu)
func (a *Analyzer) apply(unit string) {
	if e, ok := a.effects[normalize(unit)]; ok {
		a.values[e.header] = e.value
		return
	}

	header, value, _ := strings.Cut(unit, " ")
	header = normalize(header)
	value = strings.TrimSpace(value)

	switch header {
	case "*RST":
		a.values = make(map[string]string, len(a.defaults))
		for h, v := range a.defaults {
			a.values[h] = v
		}
		a.sweeps = 0
		a.frames = nil
	case "*WAI", "*CLS", "ABOR", "FORM", "DISP:WIND2:SUBW:SEL":
	case "INIT:IMM", "INIT":
		a.sweeps++
		a.recordFrame()
	case "CALC2:SGR:CLE:IMM", "CALC2:SGR:CLE":
		a.frames = nil
	case "MMEM:STOR2:SGR":
		a.files[unquote(value)] = a.exportSpectrogram()
	case "INST:CRE:REPL":
		if mode, ok := lastQuoted(value); ok {
			a.mode = mode
		}
	default:
		a.values[header] = value
	}
}

// recordFrame appends the current trace to the spectrogram history (caller
// must hold a.mu)
func (a *Analyzer) recordFrame() {
	depth := defaultHistoryDepth
	if v, err := strconv.Atoi(a.values["CALC2:SGR:HDEP"]); err == nil && v > 0 {
		depth = v
	}

	a.frames = append(a.frames, append([]float64(nil), a.trace...))
	if len(a.frames) > depth {
		a.frames = a.frames[len(a.frames)-depth:]
	}
}

// exportSpectrogram renders the history as CSV, newest frame first with
// frame numbers counting down from 0.
func (a *Analyzer) exportSpectrogram() []byte {
	sep := "."
	if strings.EqualFold(a.values["FORM:DEXP:DSEP"], "COMM") {
		sep = ","
	}
	number := func(v float64) string {
		return strings.Replace(strconv.FormatFloat(v, 'f', 2, 64), ".", sep, 1)
	}

	var b strings.Builder
	if strings.EqualFold(a.values["FORM:DEXP:HEAD"], "ON") {
		points := 0
		if len(a.frames) > 0 {
			points = len(a.frames[0])
		}
		fmt.Fprintf(&b, "Type;%s;\n", a.identity)
		fmt.Fprintf(&b, "Frames;%d;\n", len(a.frames))
		fmt.Fprintf(&b, "Values;%d;\n", points)
	}
	for i := len(a.frames) - 1; i >= 0; i-- {
		b.WriteString(strconv.Itoa(i - len(a.frames) + 1))
		for _, v := range a.frames[i] {
			b.WriteString(";")
			b.WriteString(number(v))
		}
		b.WriteString("\n")
	}
	return []byte(b.String())
}

func (a *Analyzer) format(v string) string {
	if !a.scientific {
		return v
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return v
	}
	return strconv.FormatFloat(f, 'E', 9, 64)
}

func (a *Analyzer) formatTrace() string {
	values := make([]string, len(a.trace))
	for i, v := range a.trace {
		values[i] = strconv.FormatFloat(v, 'f', 2, 64)
	}
	return strings.Join(values, ",")
}

// encodeBlock wraps data in an IEEE 488.2 definite length block.
func encodeBlock(data []byte) string {
	n := strconv.Itoa(len(data))
	return "#" + strconv.Itoa(len(n)) + n + string(data)
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), "'\"")
}

func splitMessage(msg string) []string {
	parts := strings.Split(msg, ";")
	units := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			units = append(units, p)
		}
	}
	return units
}

func normalize(header string) string {
	return strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(header), ":"))
}

// lastQuoted returns the last single quoted string in s.
func lastQuoted(s string) (string, bool) {
	end := strings.LastIndex(s, "'")
	if end <= 0 {
		return "", false
	}
	start := strings.LastIndex(s[:end], "'")
	if start < 0 {
		return "", false
	}
	return s[start+1 : end], true
}
