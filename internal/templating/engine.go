package templating

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/template"

	"github.com/yegors/voxdesk/pkg/logger"
)

var funcs = template.FuncMap{
	"join":  strings.Join,
	"lower": strings.ToLower,
	"upper": strings.ToUpper,
}

type cachedTemplate struct {
	tmpl   *template.Template
	source string
}

// Engine parses, caches and renders instruction templates
type Engine struct {
	aggregator    *DataAggregator
	templateCache map[string]*cachedTemplate
	cacheMutex    sync.RWMutex
	logger        *logger.Logger
}

// NewEngine creates a new template engine
func NewEngine(aggregator *DataAggregator, log *logger.Logger) *Engine {
	return &Engine{
		aggregator:    aggregator,
		templateCache: make(map[string]*cachedTemplate),
		logger:        log.Named("template-engine"),
	}
}

// Parse compiles source and caches it under name, replacing any earlier
// template of that name
func (e *Engine) Parse(name, source string) error {
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=zero").Parse(source)
	if err != nil {
		return fmt.Errorf("failed to parse template '%s': %w", name, err)
	}

	e.cacheMutex.Lock()
	e.templateCache[name] = &cachedTemplate{tmpl: tmpl, source: source}
	e.cacheMutex.Unlock()

	e.logger.Debug("Template parsed and cached", logger.String("template", name))
	return nil
}

// ParseFile reads path and caches its template under name
func (e *Engine) ParseFile(name, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read template file '%s': %w", path, err)
	}
	return e.Parse(name, strings.TrimSpace(string(content)))
}

// Source returns the unrendered text of a cached template
func (e *Engine) Source(name string) (string, bool) {
	e.cacheMutex.RLock()
	defer e.cacheMutex.RUnlock()
	if c, ok := e.templateCache[name]; ok {
		return c.source, true
	}
	return "", false
}

// Render executes a cached template with the current task state
func (e *Engine) Render(ctx context.Context, name string) (string, error) {
	e.cacheMutex.RLock()
	cached, ok := e.templateCache[name]
	e.cacheMutex.RUnlock()
	if !ok {
		return "", fmt.Errorf("template '%s' not loaded", name)
	}

	tc, err := e.aggregator.GetTemplateContext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get template context: %w", err)
	}

	var buf bytes.Buffer
	if err := cached.tmpl.Execute(&buf, prepareTemplateData(tc)); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	rendered := buf.String()
	e.logger.Debug("Template rendered",
		logger.String("template", name),
		logger.Int("rendered_length", len(rendered)))
	return rendered, nil
}

// ClearCache drops every cached template
func (e *Engine) ClearCache() {
	e.cacheMutex.Lock()
	defer e.cacheMutex.Unlock()

	count := len(e.templateCache)
	e.templateCache = make(map[string]*cachedTemplate)
	e.logger.Debug("Template cache cleared", logger.Int("cleared_count", count))
}

func prepareTemplateData(tc *Context) TemplateData {
	return TemplateData{
		Timestamp:   tc.Timestamp,
		Date:        tc.Timestamp.Format("2006-01-02"),
		Weekday:     tc.Timestamp.Weekday().String(),
		Time:        tc.Timestamp.Format("15:04"),
		CurrentList: tc.CurrentList,
		ListNames:   listNames(tc.Lists),
		Lists:       FormatLists(tc.Lists, tc.CurrentList),
	}
}
