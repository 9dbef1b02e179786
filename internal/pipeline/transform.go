// internal/pipeline/transform.go
package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/utils"
)

// TransformType names a transform variant. The set is closed: rules with any
// other type are rejected when a source is loaded.
type TransformType string

const (
	TransformTrim           TransformType = "trim"
	TransformReplace        TransformType = "replace"
	TransformRegex          TransformType = "regex"
	TransformToNumber       TransformType = "toNumber"
	TransformRemoveNonDigit TransformType = "removeNonDigit"
	TransformStripTags      TransformType = "stripTags"
	TransformMaxLength      TransformType = "maxLength"
	TransformAddPrefix      TransformType = "addPrefix"
	TransformAddSuffix      TransformType = "addSuffix"
	TransformToLower        TransformType = "toLower"
	TransformToUpper        TransformType = "toUpper"
	TransformFormatPrice    TransformType = "formatPrice"
)

// TransformTypes lists every known variant in documentation order.
var TransformTypes = []TransformType{
	TransformTrim, TransformReplace, TransformRegex, TransformToNumber,
	TransformRemoveNonDigit, TransformStripTags, TransformMaxLength,
	TransformAddPrefix, TransformAddSuffix, TransformToLower, TransformToUpper,
	TransformFormatPrice,
}

// DefaultPriceLocale is used by formatPrice when a rule sets no locale.
var DefaultPriceLocale = language.Vietnamese

// TransformRule is a single step of a transform chain. Which parameters are
// meaningful depends on Type:
//
//	replace:     Find, Replace
//	regex:       Pattern, Flags, Replace
//	maxLength:   Max, Ellipsis
//	addPrefix:   Value
//	addSuffix:   Value
//	formatPrice: Suffix, Locale
type TransformRule struct {
	Type     TransformType `yaml:"type" json:"type"`
	Find     string        `yaml:"find,omitempty" json:"find,omitempty"`
	Replace  string        `yaml:"replace,omitempty" json:"replace,omitempty"`
	Pattern  string        `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Flags    string        `yaml:"flags,omitempty" json:"flags,omitempty"`
	Max      int           `yaml:"max,omitempty" json:"max,omitempty"`
	Ellipsis bool          `yaml:"ellipsis,omitempty" json:"ellipsis,omitempty"`
	Value    string        `yaml:"value,omitempty" json:"value,omitempty"`
	Suffix   string        `yaml:"suffix,omitempty" json:"suffix,omitempty"`
	Locale   string        `yaml:"locale,omitempty" json:"locale,omitempty"`

	re         *regexp.Regexp
	compileErr error
}

// TransformList represents a list of transformation rules applied sequentially
type TransformList []TransformRule

// StepObserver is told about every step that failed and was skipped.
type StepObserver func(index int, rule TransformRule, err error)

// Validate checks the rule's type and parameters. A regex pattern that does
// not compile does not fail validation: the step is skipped when applied and
// the problem is reported by Warning.
func (tr *TransformRule) Validate() error {
	switch tr.Type {
	case TransformTrim, TransformToNumber, TransformRemoveNonDigit, TransformStripTags,
		TransformToLower, TransformToUpper:
		return nil
	case TransformReplace:
		if tr.Find == "" {
			return fmt.Errorf("replace requires find")
		}
		return nil
	case TransformRegex:
		if tr.Pattern == "" {
			return fmt.Errorf("regex pattern is required")
		}
		tr.re, tr.compileErr = compileRegex(tr.Pattern, tr.Flags)
		return nil
	case TransformMaxLength:
		if tr.Max < 1 {
			return fmt.Errorf("maxLength requires max >= 1")
		}
		return nil
	case TransformAddPrefix, TransformAddSuffix:
		if tr.Value == "" {
			return fmt.Errorf("%s requires value", tr.Type)
		}
		return nil
	case TransformFormatPrice:
		if tr.Locale != "" {
			if _, err := language.Parse(tr.Locale); err != nil {
				return fmt.Errorf("formatPrice locale %q: %w", tr.Locale, err)
			}
		}
		return nil
	case "":
		return fmt.Errorf("transform type is required")
	default:
		return fmt.Errorf("unknown transform type: %s", tr.Type)
	}
}

// Warning reports a problem that makes the rule fail at run time without
// making the source invalid, such as a regex that does not compile.
func (tr TransformRule) Warning() error {
	return tr.compileErr
}

// Validate checks every rule, reporting the first failing index.
func (tl TransformList) Validate() error {
	for i := range tl {
		if err := tl[i].Validate(); err != nil {
			return fmt.Errorf("transform %d: %w", i, err)
		}
	}
	return nil
}

// UnmarshalYAML decodes and validates a rule.
func (tr *TransformRule) UnmarshalYAML(node *yaml.Node) error {
	type plain TransformRule
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*tr = TransformRule(p)
	if err := tr.Validate(); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}

// UnmarshalJSON decodes and validates a rule.
func (tr *TransformRule) UnmarshalJSON(data []byte) error {
	type plain TransformRule
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*tr = TransformRule(p)
	return tr.Validate()
}

// Apply runs the chain over raw. A failing step is skipped and the value it
// received is passed on unchanged.
func (tl TransformList) Apply(raw string) string {
	return tl.ApplyWithObserver(raw, nil)
}

// ApplyWithObserver is Apply with a callback for skipped steps.
func (tl TransformList) ApplyWithObserver(raw string, observe StepObserver) string {
	value := raw
	for i, rule := range tl {
		out, err := rule.safeApply(value)
		if err != nil {
			if observe != nil {
				observe(i, rule, errors.Wrap(errors.KindTransformStep, err, "step %d (%s)", i, rule.Type))
			}
			continue
		}
		value = out
	}
	return value
}

func (tr TransformRule) safeApply(input string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return tr.Apply(input)
}

// Apply applies a single transformation rule to the input string
func (tr TransformRule) Apply(input string) (string, error) {
	switch tr.Type {
	case TransformTrim:
		return strings.TrimSpace(input), nil

	case TransformReplace:
		if tr.Find == "" {
			return "", fmt.Errorf("replace requires find")
		}
		return strings.ReplaceAll(input, tr.Find, tr.Replace), nil

	case TransformRegex:
		re := tr.re
		if re == nil {
			var err error
			if re, err = compileRegex(tr.Pattern, tr.Flags); err != nil {
				return "", err
			}
		}
		return re.ReplaceAllString(input, tr.Replace), nil

	case TransformToNumber:
		return strconv.FormatFloat(ParseNumber(input), 'f', -1, 64), nil

	case TransformRemoveNonDigit:
		return RemoveNonDigit(input), nil

	case TransformStripTags:
		return strings.TrimSpace(utils.StripHTMLTags(input)), nil

	case TransformMaxLength:
		if tr.Max < 1 {
			return "", fmt.Errorf("maxLength requires max >= 1")
		}
		r := []rune(input)
		if len(r) <= tr.Max {
			return input, nil
		}
		out := string(r[:tr.Max])
		if tr.Ellipsis {
			out += "..."
		}
		return out, nil

	case TransformAddPrefix:
		return tr.Value + input, nil

	case TransformAddSuffix:
		return input + tr.Value, nil

	case TransformToLower:
		return strings.ToLower(input), nil

	case TransformToUpper:
		return strings.ToUpper(input), nil

	case TransformFormatPrice:
		tag := DefaultPriceLocale
		if tr.Locale != "" {
			t, err := language.Parse(tr.Locale)
			if err != nil {
				return "", err
			}
			tag = t
		}
		return FormatPrice(ParseNumber(input), tag, tr.Suffix), nil

	default:
		return "", fmt.Errorf("unknown transform type: %s", tr.Type)
	}
}

func compileRegex(pattern, flags string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("regex pattern is required")
	}
	var prefix strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			prefix.WriteRune(f)
		case 'g', 'u':
			// replacement is always global and patterns are always UTF-8
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", f)
		}
	}
	if prefix.Len() > 0 {
		pattern = "(?" + prefix.String() + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	return re, nil
}

var leadingNumber = regexp.MustCompile(`^-?(\d+\.?\d*|\.\d+)`)

// ParseNumber keeps digits, '.' and '-' and reads the longest leading
// decimal from what remains. Input with no number yields 0.
func ParseNumber(s string) float64 {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	m := leadingNumber.FindString(b.String())
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}

// RemoveNonDigit keeps only ASCII digits.
func RemoveNonDigit(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// maxExactInt is the largest magnitude a float64 holds without losing whole
// units.
const maxExactInt = 1 << 53

// FormatPrice renders v rounded to a whole number with the thousands grouping
// of tag, followed by suffix.
func FormatPrice(v float64, tag language.Tag, suffix string) string {
	p := message.NewPrinter(tag)
	v = math.Round(v)
	if math.Abs(v) < maxExactInt {
		return p.Sprintf("%d", int64(v)) + suffix
	}
	return groupDigits(strconv.FormatFloat(v, 'f', 0, 64), groupSeparator(p)) + suffix
}

// groupSeparator is the thousands separator p prints.
func groupSeparator(p *message.Printer) string {
	s := []rune(p.Sprintf("%d", 1000))
	if len(s) == 5 {
		return string(s[1])
	}
	return ""
}

func groupDigits(digits, sep string) string {
	sign := ""
	if strings.HasPrefix(digits, "-") {
		sign, digits = "-", digits[1:]
	}
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteString(sep)
		}
		b.WriteRune(r)
	}
	return sign + b.String()
}
