// Package harness renders and serves the page that hosts browser targets.
package harness

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

//go:embed assets/mec.js
var runnerScript []byte

const (
	indexTemplate = "index.html.tmpl"

	// Message is shown on the harness page; results only go to the console.
	Message = "Open browser console for test results..."
)

type pageData struct {
	Title      string
	Message    string
	TargetURLs []string
}

// Render produces the harness page importing every target URL in order.
func Render(targetURLs []string) ([]byte, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/"+indexTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse harness template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, pageData{
		Title:      "mec",
		Message:    Message,
		TargetURLs: targetURLs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render harness template: %w", err)
	}
	return buf.Bytes(), nil
}

// RunnerScript returns the in-page suite runner module.
func RunnerScript() []byte {
	return runnerScript
}
