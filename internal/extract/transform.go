package extract

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// Transform names.
const (
	TransformTrim          = "trim"
	TransformCollapse      = "collapse"
	TransformInt           = "int"
	TransformFloat         = "float"
	TransformPrice         = "price"
	TransformCount         = "count"
	TransformExists        = "exists"
	TransformBackgroundURL = "background_url"
	TransformURL           = "url"
)

// DefaultCurrencies are the markers accepted by the price transform when a
// strategy does not list its own.
var DefaultCurrencies = []string{"Rs.", "Rs", "रु", "NPR", "$", "€", "£", "₹"}

var (
	errEmpty       = errors.New("empty value")
	errNoNumber    = errors.New("no numeric value")
	errNoCurrency  = errors.New("missing currency marker")
	errNoURL       = errors.New("no url")
	errUnknownFunc = errors.New("unknown transform")
)

var (
	intRe   = regexp.MustCompile(`\d[\d,]*`)
	floatRe = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	bgURLRe = regexp.MustCompile(`url\(\s*['"]?([^'")]+?)['"]?\s*\)`)
)

// applyTransform normalizes a raw text or attribute value. It returns an
// error when the value is not valid for the transform.
func applyTransform(name, raw string, currencies []string) (string, error) {
	switch name {
	case "", TransformTrim:
		v := strings.TrimSpace(raw)
		if v == "" {
			return "", errEmpty
		}
		return v, nil

	case TransformCollapse:
		v := collapseSpace(raw)
		if v == "" {
			return "", errEmpty
		}
		return v, nil

	case TransformInt:
		m := intRe.FindString(raw)
		if m == "" {
			return "", errNoNumber
		}
		n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
		if err != nil {
			return "", errNoNumber
		}
		return strconv.Itoa(n), nil

	case TransformFloat:
		m := floatRe.FindString(raw)
		if m == "" {
			return "", errNoNumber
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
		if err != nil {
			return "", errNoNumber
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil

	case TransformPrice:
		v := collapseSpace(raw)
		if v == "" {
			return "", errEmpty
		}
		if len(currencies) == 0 {
			currencies = DefaultCurrencies
		}
		tagged := false
		for _, c := range currencies {
			if strings.Contains(v, c) {
				tagged = true
				break
			}
		}
		if !tagged {
			return "", errNoCurrency
		}
		if !intRe.MatchString(v) {
			return "", errNoNumber
		}
		return v, nil

	case TransformBackgroundURL:
		m := bgURLRe.FindStringSubmatch(raw)
		if len(m) < 2 || strings.TrimSpace(m[1]) == "" {
			return "", errNoURL
		}
		u := strings.TrimSpace(m[1])
		if strings.HasPrefix(u, "//") {
			u = "https:" + u
		}
		return u, nil

	case TransformURL:
		v := strings.TrimSpace(raw)
		switch {
		case v == "", strings.HasPrefix(v, "#"):
			return "", errNoURL
		case strings.HasPrefix(v, "javascript:"),
			strings.HasPrefix(v, "mailto:"),
			strings.HasPrefix(v, "tel:"),
			strings.HasPrefix(v, "data:"):
			return "", errNoURL
		}
		if strings.HasPrefix(v, "//") {
			v = "https:" + v
		}
		return v, nil

	default:
		return "", errUnknownFunc
	}
}
