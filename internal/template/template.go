// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package template

import (
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/vorlif/humanize"
	"github.com/vorlif/humanize/locale/de"
	"github.com/vorlif/humanize/locale/fr"
	"github.com/vorlif/spreak"
	"github.com/vorlif/spreak/localize"
	"golang.org/x/text/language"

	"github.com/wneessen/geoflow/internal/config"
)

type Templates struct {
	Text      *template.Template
	Tooltip   *template.Template
	localizer *spreak.Localizer
	humanizer *humanize.Humanizer
}

var i18nVars = map[string]localize.MsgID{
	"title":     "You are here",
	"accuracy":  "Accuracy",
	"moved":     "Moved",
	"sunrise":   "Sunrise",
	"sunset":    "Sunset",
	"updated":   "Updated",
	"waiting":   "Waiting for position",
	"latitude":  "Latitude",
	"longitude": "Longitude",
	"source":    "Source",
}

// New parses the text and tooltip templates of conf. Localized output uses loc for
// translations and lang for time formatting.
func New(conf *config.Config, loc *spreak.Localizer, lang language.Tag) (*Templates, error) {
	tpls := new(Templates)
	tpls.localizer = loc
	tpls.humanizer = humanize.MustNew(humanize.WithLocale(de.New(), fr.New())).CreateHumanizer(lang)

	tpl, err := template.New("text").Funcs(tpls.templateFuncMap()).Parse(conf.Templates.Text)
	if err != nil {
		return tpls, fmt.Errorf("failed to parse text template: %w", err)
	}
	tpls.Text = tpl

	tpl, err = template.New("tooltip").Funcs(tpls.templateFuncMap()).Parse(conf.Templates.Tooltip)
	if err != nil {
		return tpls, fmt.Errorf("failed to parse tooltip template: %w", err)
	}
	tpls.Tooltip = tpl

	return tpls, nil
}

// Localize returns the translation of a template vocabulary key, or key itself if unknown.
func (t *Templates) Localize(key string) string {
	return t.loc(key)
}

func (t *Templates) templateFuncMap() template.FuncMap {
	return template.FuncMap{
		"timeFormat":    timeFormat,
		"localizedTime": t.localizedTime,
		"naturalTime":   t.naturalTime,
		"floatFormat":   floatFormat,
		"loc":           t.loc,
		"lc":            strings.ToLower,
		"uc":            strings.ToUpper,
		"iconWithSpace": IconWithSpace,
	}
}

func (t *Templates) loc(val string) string {
	if raw, ok := i18nVars[strings.ToLower(val)]; ok {
		return t.localizer.Get(raw)
	}
	return val
}

func (t *Templates) localizedTime(val time.Time) string {
	return t.humanizer.FormatTime(val, humanize.TimeFormat)
}

func (t *Templates) naturalTime(val time.Time) string {
	return t.humanizer.NaturalTime(val)
}

func timeFormat(val time.Time, fmt string) string {
	return val.Format(fmt)
}

// floatFormat truncates val to precision decimal places.
func floatFormat(val float64, precision int) string {
	pow := math.Pow(10, float64(precision))
	return fmt.Sprintf("%.*f", precision, math.Trunc(val*pow)/pow)
}

// IconWithSpace pads an icon so that wide glyphs are followed by a visible gap.
func IconWithSpace(icon string) string {
	width := runewidth.StringWidth(icon)
	return fmt.Sprintf("%s%s", icon, strings.Repeat(" ", width+1))
}
