package render

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"researchshell/internal/logger"
)

//go:embed themes/*.yaml
var themeFiles embed.FS

// Theme names shipped with the binary.
const (
	ThemeDefault = "default"
	ThemePlain   = "plain"
)

// styleConfig is one style entry of a theme file. Colors are either a plain
// color string or a {light, dark} pair.
type styleConfig struct {
	Foreground    interface{} `yaml:"foreground"`
	Background    interface{} `yaml:"background"`
	Bold          *bool       `yaml:"bold"`
	Italic        *bool       `yaml:"italic"`
	Underline     *bool       `yaml:"underline"`
	Strikethrough *bool       `yaml:"strikethrough"`
}

type themeConfig struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Styles      map[string]styleConfig `yaml:"styles"`
}

// Theme holds the lipgloss styles used for every rendered element.
type Theme struct {
	Name       string
	Title      lipgloss.Style
	Question   lipgloss.Style
	Step       lipgloss.Style
	Action     lipgloss.Style
	Thoughts   lipgloss.Style
	Reference  lipgloss.Style
	Quote      lipgloss.Style
	Definitive lipgloss.Style
	Tentative  lipgloss.Style
	Error      lipgloss.Style
	Muted      lipgloss.Style
	Selected   lipgloss.Style
}

// ThemeNames lists the embedded themes.
func ThemeNames() []string {
	entries, err := themeFiles.ReadDir("themes")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	sort.Strings(names)
	return names
}

// LoadTheme parses an embedded theme by name.
func LoadTheme(name string) (*Theme, error) {
	data, err := themeFiles.ReadFile("themes/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown theme %q", name)
	}

	var cfg themeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse theme %q: %w", name, err)
	}
	return convertThemeConfig(cfg), nil
}

// themeOrFallback loads a theme and degrades to unstyled output on failure.
func themeOrFallback(name string) *Theme {
	theme, err := LoadTheme(name)
	if err != nil {
		logger.Debug("Falling back to plain theme", "theme", name, "error", err)
		return fallbackTheme(name)
	}
	return theme
}

func convertThemeConfig(cfg themeConfig) *Theme {
	style := func(key string) lipgloss.Style {
		return createStyle(cfg.Styles[key])
	}
	return &Theme{
		Name:       cfg.Name,
		Title:      style("title"),
		Question:   style("question"),
		Step:       style("step"),
		Action:     style("action"),
		Thoughts:   style("thoughts"),
		Reference:  style("reference"),
		Quote:      style("quote"),
		Definitive: style("definitive"),
		Tentative:  style("tentative"),
		Error:      style("error"),
		Muted:      style("muted"),
		Selected:   style("selected"),
	}
}

func createStyle(cfg styleConfig) lipgloss.Style {
	style := lipgloss.NewStyle()

	if color := parseColor(cfg.Foreground); color != nil {
		style = style.Foreground(color)
	}
	if color := parseColor(cfg.Background); color != nil {
		style = style.Background(color)
	}

	if cfg.Bold != nil && *cfg.Bold {
		style = style.Bold(true)
	}
	if cfg.Italic != nil && *cfg.Italic {
		style = style.Italic(true)
	}
	if cfg.Underline != nil && *cfg.Underline {
		style = style.Underline(true)
	}
	if cfg.Strikethrough != nil && *cfg.Strikethrough {
		style = style.Strikethrough(true)
	}
	return style
}

// parseColor accepts a color string or a map with light and dark keys.
func parseColor(value interface{}) lipgloss.TerminalColor {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil
		}
		return lipgloss.Color(v)
	case map[string]interface{}:
		light, hasLight := v["light"].(string)
		dark, hasDark := v["dark"].(string)
		if hasLight && hasDark {
			return lipgloss.AdaptiveColor{Light: light, Dark: dark}
		}
		return nil
	default:
		return nil
	}
}

func fallbackTheme(name string) *Theme {
	plain := lipgloss.NewStyle()
	return &Theme{
		Name:       name,
		Title:      plain,
		Question:   plain,
		Step:       plain,
		Action:     plain,
		Thoughts:   plain,
		Reference:  plain,
		Quote:      plain,
		Definitive: plain,
		Tentative:  plain,
		Error:      plain,
		Muted:      plain,
		Selected:   plain,
	}
}
