// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkyr/fig"

	"github.com/wneessen/geoflow/internal/location"
)

const (
	configEnv = "GEOFLOW"

	ProviderGPSD    = "gpsd"
	ProviderFile    = "file"
	ProviderIchnaea = "ichnaea"

	DefaultTextTpl    = "{{.Icon}} {{floatFormat .Latitude 4}}, {{floatFormat .Longitude 4}}"
	DefaultTooltipTpl = "{{loc \"title\"}}{{with .Place.Label}}: {{.}}{{end}}\n{{loc \"accuracy\"}}: {{floatFormat .Accuracy 0}} m ({{.Source}})\n" +
		"{{loc \"moved\"}}: {{floatFormat .Moved 0}} m\n" +
		"{{loc \"sunrise\"}}: {{timeFormat .SunriseTime \"15:04\"}}\n{{loc \"sunset\"}}: {{timeFormat .SunsetTime \"15:04\"}}\n" +
		"{{loc \"updated\"}}: {{naturalTime .UpdateTime}}"
)

// Config represents the application's configuration structure.
type Config struct {
	Locale   string     `fig:"locale"`
	LogLevel slog.Level `fig:"loglevel" default:"0"`

	Location struct {
		// Allowed values: gpsd, file, ichnaea
		Provider        string        `fig:"provider" default:"gpsd"`
		Interval        time.Duration `fig:"interval" default:"10s"`
		FastestInterval time.Duration `fig:"fastest_interval" default:"5s"`
		// Allowed values: high_accuracy, balanced_power_accuracy, low_power, passive
		Priority     string        `fig:"priority" default:"high_accuracy"`
		GracePeriod  time.Duration `fig:"grace_period" default:"5s"`
		CheckGeoClue bool          `fig:"check_geoclue"`
	} `fig:"location"`

	GPSD struct {
		Host string `fig:"host" default:"localhost"`
		Port string `fig:"port" default:"2947"`
	} `fig:"gpsd"`

	File struct {
		Path string `fig:"path"`
	} `fig:"file"`

	Ichnaea struct {
		Endpoint    string `fig:"endpoint" default:"https://api.beacondb.net/v1/geolocate"`
		DisableWifi bool   `fig:"disable_wifi"`
	} `fig:"ichnaea"`

	Geocoder struct {
		// Empty uses the public OpenStreetMap Nominatim instance
		Endpoint string `fig:"endpoint"`
		Disable  bool   `fig:"disable"`
	} `fig:"geocoder"`

	Intervals struct {
		Output time.Duration `fig:"output" default:"30s"`
	} `fig:"intervals"`

	Templates struct {
		Text    string `fig:"text"`
		Tooltip string `fig:"tooltip"`
	} `fig:"templates"`

	Web struct {
		// Empty disables the web map
		Listen string `fig:"listen"`
	} `fig:"web"`
}

func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read Config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func (c *Config) Validate() error {
	c.Location.Provider = strings.ToLower(c.Location.Provider)
	switch c.Location.Provider {
	case ProviderGPSD, ProviderFile, ProviderIchnaea:
	default:
		return fmt.Errorf("invalid location provider: %s", c.Location.Provider)
	}
	if c.Location.GracePeriod < 0 {
		return fmt.Errorf("invalid grace period: %s", c.Location.GracePeriod)
	}
	if _, err := c.Request(); err != nil {
		return err
	}
	if c.Intervals.Output <= 0 {
		return fmt.Errorf("invalid output interval: %s", c.Intervals.Output)
	}
	if c.Locale == "" {
		c.Locale = getLocale()
	}
	if c.Templates.Text == "" {
		c.Templates.Text = DefaultTextTpl
	}
	if c.Templates.Tooltip == "" {
		c.Templates.Tooltip = DefaultTooltipTpl
	}
	if c.File.Path == "" {
		home, _ := os.UserHomeDir()
		c.File.Path = filepath.Join(home, ".config", "geoflow", "geolocation")
	}

	return nil
}

// Request returns the location request described by the location section.
func (c *Config) Request() (location.Request, error) {
	prio, err := location.ParsePriority(c.Location.Priority)
	if err != nil {
		return location.Request{}, err
	}
	req := location.Request{
		Interval:        c.Location.Interval,
		FastestInterval: c.Location.FastestInterval,
		Priority:        prio,
	}
	if err = req.Validate(); err != nil {
		return req, fmt.Errorf("invalid location request: %w", err)
	}
	return req, nil
}

func getLocale() string {
	locale := os.Getenv("LC_MESSAGES")
	if idx := strings.Index(locale, "."); idx != -1 {
		lang := locale[:idx]
		return strings.ReplaceAll(lang, "_", "-")
	}
	return locale
}
