package offer

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	DefaultCurrency = "USD"
	DefaultLocale   = "en-US"
)

// Options control Format. The zero value renders the plain "$"-grouped form.
type Options struct {
	Currency string
	Locale   string
	// ShortForm switches to locale-aware currency formatting. Without it,
	// Currency and Locale are ignored and amounts render as "$" followed by
	// comma-grouped digits.
	ShortForm bool
}

// Format renders r for display: "<min> - <max>" for ranges, the single
// amount otherwise.
func Format(r Record, opts Options) string {
	render := plainDollars
	if opts.ShortForm {
		render = localizedRenderer(opts.Currency, opts.Locale)
	}

	switch o := Resolve(r).(type) {
	case Range:
		return render(o.Min) + " - " + render(o.Max)
	case Fixed:
		return render(o.Amount)
	}
	return render(0)
}

// FormatForTemplate renders the value substituted for {cash_offer} in
// outbound messages. It always uses the plain form.
func FormatForTemplate(r Record) string {
	return Format(r, Options{})
}

// plainDollars renders "$" + comma-grouped digits, keeping up to three
// fraction digits with trailing zeros dropped.
func plainDollars(v float64) string {
	return "$" + groupThousands(v)
}

func groupThousands(v float64) string {
	neg := v < 0
	if neg {
		v = -v
	}

	s := strconv.FormatFloat(math.Round(v*1000)/1000, 'f', 3, 64)
	intPart, frac, _ := strings.Cut(s, ".")
	frac = strings.TrimRight(frac, "0")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

// nbsp separates a trailing currency symbol from the digits, and a
// leading one in spacedPrefixLocales.
const nbsp = "\u00a0"

// suffixLocales place the currency symbol after the amount.
var suffixLocales = map[string]bool{
	"bg": true, "cs": true, "da": true, "de": true, "el": true, "es": true,
	"et": true, "fi": true, "fr": true, "hr": true, "hu": true, "it": true,
	"lt": true, "lv": true, "nb": true, "no": true, "pl": true, "ro": true,
	"ru": true, "sk": true, "sl": true, "sv": true, "uk": true,
}

// spacedPrefixLocales put a space between a leading symbol and the amount.
var spacedPrefixLocales = map[string]bool{"nl": true, "pt": true}

// localizedRenderer returns a whole-unit currency formatter for the given
// ISO currency code and BCP 47 locale.
func localizedRenderer(code, locale string) func(float64) string {
	if code == "" {
		code = DefaultCurrency
	}
	if locale == "" {
		locale = DefaultLocale
	}

	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.AmericanEnglish
	}
	p := message.NewPrinter(tag)

	symbol := strings.ToUpper(code)
	if unit, err := currency.ParseISO(code); err == nil {
		symbol = p.Sprint(currency.Symbol(unit))
	}

	base, _ := tag.Base()
	suffix := suffixLocales[base.String()]
	if base.String() == "pt" {
		region, _ := tag.Region()
		suffix = region.String() == "PT"
	}
	prefix := symbol
	if spacedPrefixLocales[base.String()] {
		prefix += nbsp
	}

	return func(v float64) string {
		n := int64(math.Round(v))
		neg := n < 0
		if neg {
			n = -n
		}
		digits := p.Sprintf("%d", n)

		var out string
		if suffix {
			out = digits + nbsp + symbol
		} else {
			out = prefix + digits
		}
		if neg {
			out = "-" + out
		}
		return out
	}
}
