// Package api exposes an instrument driver over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"specan/pkg/instrument"
	"specan/pkg/manager"
	"specan/pkg/store"

	log "github.com/sirupsen/logrus"
)

// Device is the instrument the server controls.
type Device interface {
	Info() instrument.Info
	Connect() error
	Disconnect() error

	Snapshot() ([]instrument.SettingState, error)
	SetSettings(values map[string]string) (map[string]manager.Result, error)
	VerifySettings(names []string) (map[string]manager.Result, error)
	Apply(values map[string]string) (map[string]instrument.ApplyResult, error)
	SetMode(mode string) error

	Sweep() error
	Abort() error
	Trace() ([]float64, error)
	ClearSpectrogram() error
	ExportSpectrogram() ([]byte, error)

	SavePreset(name string) (store.Preset, error)
	LoadPreset(name string) (map[string]instrument.ApplyResult, error)
}

// Presets lists and removes stored presets.
type Presets interface {
	ListPresets() ([]string, error)
	GetPreset(name string) (store.Preset, error)
	DeletePreset(name string) error
}

type Server struct {
	dev     Device
	presets Presets
	hub     *Hub
	tmpl    *template.Template
	logger  log.FieldLogger

	txCounter atomic.Int32
}

// NewServer creates a server for dev. presets may be nil when no preset
// store is configured.
func NewServer(dev Device, presets Presets, hub *Hub, tmpl *template.Template, logger log.FieldLogger) *Server {
	server := Server{
		dev:     dev,
		presets: presets,
		hub:     hub,
		tmpl:    tmpl,
		logger:  logger.WithField("component", "api"),
	}

	return &server
}

func (s *Server) AddRoutes() *http.ServeMux {
	r := http.NewServeMux()

	r.Handle("GET /api/v1/device", s.handle(s.handleDevice))
	r.Handle("PUT /api/v1/connect", s.handle(s.handleConnect))
	r.Handle("PUT /api/v1/disconnect", s.handle(s.handleDisconnect))

	r.Handle("GET /api/v1/settings", s.handle(s.handleGetSettings))
	r.Handle("PUT /api/v1/settings", s.handle(s.handlePutSettings))
	r.Handle("PUT /api/v1/verify", s.handle(s.handleVerify))
	r.Handle("PUT /api/v1/mode", s.handle(s.handleMode))

	r.Handle("PUT /api/v1/sweep", s.handle(s.handleSweep))
	r.Handle("PUT /api/v1/abort", s.handle(s.handleAbort))
	r.Handle("GET /api/v1/trace", s.handle(s.handleTrace))
	r.Handle("PUT /api/v1/spectrogram/clear", s.handle(s.handleClearSpectrogram))
	r.Handle("GET /api/v1/spectrogram", s.handle(s.handleSpectrogram))

	r.Handle("GET /api/v1/presets", s.handle(s.handleListPresets))
	r.Handle("GET /api/v1/presets/{name}", s.handle(s.handleGetPreset))
	r.Handle("PUT /api/v1/presets/{name}", s.handle(s.handleSavePreset))
	r.Handle("DELETE /api/v1/presets/{name}", s.handle(s.handleDeletePreset))
	r.Handle("PUT /api/v1/presets/{name}/apply", s.handle(s.handleLoadPreset))

	if s.hub != nil {
		r.Handle("GET /api/v1/events", s.hub)
	}
	r.HandleFunc("/setup", s.handleSetup)

	return r
}

func (s *Server) handleDevice(r *http.Request) (any, error) {
	return s.dev.Info(), nil
}

func (s *Server) handleConnect(r *http.Request) (any, error) {
	if err := s.dev.Connect(); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) handleDisconnect(r *http.Request) (any, error) {
	if err := s.dev.Disconnect(); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) handleGetSettings(r *http.Request) (any, error) {
	return s.dev.Snapshot()
}

func (s *Server) handlePutSettings(r *http.Request) (any, error) {
	var values map[string]string
	if err := decodeBody(r, &values); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, badRequest("no settings given")
	}

	verify, _ := strconv.ParseBool(r.URL.Query().Get("verify"))
	if verify {
		return s.dev.Apply(values)
	}
	return s.dev.SetSettings(values)
}

func (s *Server) handleVerify(r *http.Request) (any, error) {
	var names []string
	if err := decodeBody(r, &names); err != nil {
		return nil, err
	}
	return s.dev.VerifySettings(names)
}

func (s *Server) handleMode(r *http.Request) (any, error) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if req.Mode == "" {
		return nil, badRequest("missing mode")
	}

	if err := s.dev.SetMode(req.Mode); err != nil {
		return nil, err
	}
	return req.Mode, nil
}

func (s *Server) handleSweep(r *http.Request) (any, error) {
	if err := s.dev.Sweep(); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) handleAbort(r *http.Request) (any, error) {
	if err := s.dev.Abort(); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) handleTrace(r *http.Request) (any, error) {
	return s.dev.Trace()
}

func (s *Server) handleClearSpectrogram(r *http.Request) (any, error) {
	if err := s.dev.ClearSpectrogram(); err != nil {
		return nil, err
	}
	return true, nil
}

// handleSpectrogram returns the exported CSV as the response value.
func (s *Server) handleSpectrogram(r *http.Request) (any, error) {
	data, err := s.dev.ExportSpectrogram()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (s *Server) handleListPresets(r *http.Request) (any, error) {
	if s.presets == nil {
		return nil, instrument.ErrNoPresetStore
	}
	names, err := s.presets.ListPresets()
	if names == nil {
		names = []string{}
	}
	return names, err
}

func (s *Server) handleGetPreset(r *http.Request) (any, error) {
	if s.presets == nil {
		return nil, instrument.ErrNoPresetStore
	}
	return s.presets.GetPreset(r.PathValue("name"))
}

func (s *Server) handleSavePreset(r *http.Request) (any, error) {
	return s.dev.SavePreset(r.PathValue("name"))
}

func (s *Server) handleDeletePreset(r *http.Request) (any, error) {
	if s.presets == nil {
		return nil, instrument.ErrNoPresetStore
	}
	if err := s.presets.DeletePreset(r.PathValue("name")); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) handleLoadPreset(r *http.Request) (any, error) {
	return s.dev.LoadPreset(r.PathValue("name"))
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return badRequest("invalid JSON body: %v", err)
}

// setupData is what the setup page renders.
type setupData struct {
	Info     instrument.Info
	Settings []instrument.SettingState
	Results  []settingResult
	Presets  []string
	Success  bool
	Error    string
}

type settingResult struct {
	Name string
	instrument.ApplyResult
}

// handleSetup shows the instrument state and applies settings submitted from
// its form.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.renderSetup(w, nil, "")

	case http.MethodPost:
		values, err := parseSetupForm(r)
		if err != nil {
			s.renderSetup(w, nil, err.Error())
			return
		}

		s.logger.Infof("Applying %d settings from setup page", len(values))
		results, err := s.dev.Apply(values)
		if err != nil {
			s.renderSetup(w, nil, err.Error())
			return
		}
		s.renderSetup(w, results, "")

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) renderSetup(w http.ResponseWriter, results map[string]instrument.ApplyResult, errMsg string) {
	data := setupData{
		Info:    s.dev.Info(),
		Success: results != nil && errMsg == "",
		Error:   errMsg,
	}
	if data.Info.Connected {
		data.Settings, _ = s.dev.Snapshot()
	}
	if s.presets != nil {
		data.Presets, _ = s.presets.ListPresets()
	}
	for name, res := range results {
		data.Results = append(data.Results, settingResult{name, res})
	}
	sort.Slice(data.Results, func(i, j int) bool { return data.Results[i].Name < data.Results[j].Name })

	if err := s.tmpl.ExecuteTemplate(w, "setup.html", data); err != nil {
		http.Error(w, "Error rendering template", http.StatusInternalServerError)
		s.logger.Errorf("Error rendering template: %v", err)
	}
}

// parseSetupForm collects the non-empty "setting:<name>" fields.
func parseSetupForm(r *http.Request) (map[string]string, error) {
	if err := r.ParseForm(); err != nil {
		return nil, badRequest("error parsing form: %v", err)
	}

	values := make(map[string]string)
	for key, v := range r.PostForm {
		name, ok := strings.CutPrefix(key, "setting:")
		if !ok || len(v) == 0 || v[0] == "" {
			continue
		}
		values[name] = v[0]
	}
	if len(values) == 0 {
		return nil, badRequest("no settings given")
	}
	return values, nil
}
