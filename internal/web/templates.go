package web

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"
)

//go:embed templates/*.html
var templateFiles embed.FS

// templateFuncs provides helper functions available in all templates.
var templateFuncs = template.FuncMap{
	"formatTime":     formatTime,
	"formatDuration": formatDuration,
	"celsius":        func(v float64) string { return fmt.Sprintf("%.1f °C", v) },
	"percent":        func(v float64) string { return fmt.Sprintf("%.1f %%", v) },
}

// loadTemplate parses the status page template. Panics on syntax
// errors so that startup fails fast.
func loadTemplate() *template.Template {
	return template.Must(
		template.New("status.html").Funcs(templateFuncs).ParseFS(templateFiles, "templates/status.html"),
	)
}

// render executes the status template.
func (s *Server) render(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.template.Execute(w, data); err != nil {
		s.logger.Error("template render failed", "error", err)
	}
}

// formatTime renders a timestamp for display, or a dash when unset.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// formatDuration renders a time.Duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
