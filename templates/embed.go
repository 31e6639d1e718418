package templates

import (
	"embed"
	"html/template"
)

//go:embed *.html
var FS embed.FS

var funcs = template.FuncMap{
	"unit": unit,
}

// unit returns the display unit of a setting measure.
func unit(measure string) string {
	switch measure {
	case "frequency":
		return "Hz"
	case "power":
		return "dBm"
	case "time":
		return "s"
	default:
		return ""
	}
}

// LoadTemplates parses the embedded page templates.
func LoadTemplates() (*template.Template, error) {
	return template.New("").Funcs(funcs).ParseFS(FS, "*.html")
}
