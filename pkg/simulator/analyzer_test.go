package simulator

import (
	"errors"
	"io"
	"strconv"
	"testing"

	"specan/pkg/registry"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() log.FieldLogger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig() registry.DeviceConfig {
	return registry.DeviceConfig{
		DefaultMode: "Spectrum",
		ModesSCPI:   map[string]string{"Spectrum": "SAN", "Real-Time Spectrum": "RTIM"},
		Settings: map[string]registry.SettingConfig{
			"Center Frequency": {
				SettingType:     "numerical",
				DefaultValue:    "21500000000",
				WriteCommand:    "FREQ:CENT",
				QueryCommand:    "FREQ:CENT?",
				ApplicableModes: []string{"Spectrum"},
			},
			"Sweep Mode": {
				SettingType:     "mode",
				DefaultValue:    "Continuous",
				WriteCommands:   map[string]string{"1": "INIT:CONT ON", "0": "INIT:CONT OFF"},
				QueryCommand:    "INIT:CONT?",
				Alias:           map[string]string{"Continuous": "1", "Single": "0"},
				ApplicableModes: []string{"Spectrum"},
			},
		},
	}
}

func TestLoadDefaults(t *testing.T) {
	a := NewAnalyzer("", testLogger())
	a.Load(testConfig())

	assert.Equal(t, "Spectrum", a.Mode())

	v, err := a.Query("FREQ:CENT?")
	require.NoError(t, err)
	assert.Equal(t, "21500000000", v)

	v, err = a.Query("INIT:CONT?")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
}

func TestWriteAndQuery(t *testing.T) {
	a := NewAnalyzer("", testLogger())
	a.Load(testConfig())

	require.NoError(t, a.Write("FREQ:CENT 2000000000"))
	v, err := a.Query(":FREQ:CENT?")
	require.NoError(t, err)
	assert.Equal(t, "2000000000", v)

	require.NoError(t, a.Write("INIT:CONT OFF"))
	v, err = a.Query("INIT:CONT?")
	require.NoError(t, err)
	assert.Equal(t, "0", v)

	_, err = a.Query("BAND:VID?")
	assert.ErrorIs(t, err, ErrUndefinedHeader)

	assert.Equal(t, []string{"FREQ:CENT 2000000000", ":FREQ:CENT?", "INIT:CONT OFF", "INIT:CONT?", "BAND:VID?"}, a.Commands())
}

func TestScientificAnswers(t *testing.T) {
	a := NewAnalyzer("", testLogger())
	a.Load(testConfig())
	a.SetScientific(true)

	v, err := a.Query("FREQ:CENT?")
	require.NoError(t, err)
	assert.Equal(t, "2.150000000E+10", v)
}

func TestReset(t *testing.T) {
	a := NewAnalyzer("", testLogger())
	a.Load(testConfig())

	require.NoError(t, a.Write("FREQ:CENT 1e9;INIT:IMM;*WAI"))
	assert.Equal(t, 1, a.Sweeps())
	v, _ := a.Value("FREQ:CENT")
	assert.Equal(t, "1e9", v)

	require.NoError(t, a.Write("*RST"))
	v, _ = a.Value("freq:cent")
	assert.Equal(t, "21500000000", v)
	assert.Equal(t, 0, a.Sweeps())
}

func TestModeReplace(t *testing.T) {
	a := NewAnalyzer("", testLogger())
	a.Load(testConfig())

	require.NoError(t, a.Write("INST:CRE:REPL 'Spectrum', RTIM, 'Real-Time Spectrum'"))
	assert.Equal(t, "Real-Time Spectrum", a.Mode())

	v, err := a.Query("INST?")
	require.NoError(t, err)
	assert.Equal(t, "Real-Time Spectrum", v)
}

func TestIdentityAndTrace(t *testing.T) {
	a := NewAnalyzer("Keysight Technologies,N9000B,MY0001,A.26.10", testLogger())

	idn, err := a.Query("*IDN?")
	require.NoError(t, err)
	assert.Equal(t, "Keysight Technologies,N9000B,MY0001,A.26.10", idn)

	a.SetTrace([]float64{-90, -20.5, -90})
	trace, err := a.Query("FORM ASC;:TRAC:DATA? TRACE1")
	require.NoError(t, err)
	assert.Equal(t, "-90.00,-20.50,-90.00", trace)

	a.SetTrace(nil)
	trace, err = a.Query("TRAC:DATA? TRACE1")
	require.NoError(t, err)
	assert.Empty(t, trace)
}

func TestDefaultTraceShape(t *testing.T) {
	trace := defaultTrace(101)
	assert.Len(t, trace, 101)
	assert.InDelta(t, -20, trace[50], 1e-9)
	assert.InDelta(t, -90, trace[0], 1e-6)
}

func TestFailuresAndOverrides(t *testing.T) {
	a := NewAnalyzer("", testLogger())
	a.Load(testConfig())

	a.FailOn("FREQ:CENT 5", errors.New("VI_ERROR_TMO"))
	assert.EqualError(t, a.Write("FREQ:CENT 5"), "VI_ERROR_TMO")
	v, _ := a.Value("FREQ:CENT")
	assert.Equal(t, "21500000000", v)

	a.FailOn("FREQ:CENT 5", nil)
	assert.NoError(t, a.Write("FREQ:CENT 5"))

	a.Override("FREQ:CENT?", "7")
	v, err := a.Query("FREQ:CENT?")
	require.NoError(t, err)
	assert.Equal(t, "7", v)

	_, err = a.Query("FREQ:CENT")
	assert.ErrorContains(t, err, "not a query")
}

func TestSpectrogramHistory(t *testing.T) {
	a := NewAnalyzer("", testLogger())
	a.SetTrace([]float64{-90, -45.5})

	require.NoError(t, a.Write("CALC2:SGR:HDEP 2"))
	for i := 0; i < 3; i++ {
		require.NoError(t, a.Write("INIT:IMM;*WAI"))
	}
	assert.Equal(t, 2, a.Frames())

	require.NoError(t, a.Write("FORM:DEXP:HEAD ON;:FORM:DEXP:DSEP COMM"))
	require.NoError(t, a.Write(`MMEM:STOR2:SGR 'C:\temp\sgr.csv'`))
	data, ok := a.File(`C:\temp\sgr.csv`)
	require.True(t, ok)
	assert.Equal(t, "Type;"+DefaultIdentity+";\nFrames;2;\nValues;2;\n0;-90,00;-45,50\n-1;-90,00;-45,50\n", string(data))

	answer, err := a.Query(`MMEM:DATA? 'C:\temp\sgr.csv'`)
	require.NoError(t, err)
	n := strconv.Itoa(len(data))
	assert.Equal(t, "#"+strconv.Itoa(len(n))+n+string(data), answer)

	block, err := a.QueryBlock(`MMEM:DATA? "C:\temp\sgr.csv"`)
	require.NoError(t, err)
	assert.Equal(t, data, block)

	_, err = a.QueryBlock("MMEM:DATA? 'missing.csv'")
	assert.ErrorIs(t, err, ErrFileNotFound)
	_, err = a.QueryBlock("FREQ:CENT?")
	assert.ErrorIs(t, err, ErrUndefinedHeader)

	require.NoError(t, a.Write("CALC2:SGR:CLE:IMM"))
	assert.Zero(t, a.Frames())
	require.NoError(t, a.Write("INIT:IMM"))
	require.NoError(t, a.Write("*RST"))
	assert.Zero(t, a.Frames())
}

func TestLastQuoted(t *testing.T) {
	mode, ok := lastQuoted("'Spectrum', RTIM, 'Real-Time Spectrum'")
	assert.True(t, ok)
	assert.Equal(t, "Real-Time Spectrum", mode)

	_, ok = lastQuoted("SAN")
	assert.False(t, ok)
}
