// internal/pipeline/transform_test.go
package pipeline

import (
	"strings"
	"testing"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/valpere/Importexter/internal/errors"
)

func TestTransformRule_Apply(t *testing.T) {
	tests := []struct {
		name     string
		rule     TransformRule
		input    string
		expected string
	}{
		{"trim spaces", TransformRule{Type: TransformTrim}, "  hello world  ", "hello world"},
		{"replace", TransformRule{Type: TransformReplace, Find: "VND", Replace: "đ"}, "100 VND", "100 đ"},
		{"regex replace", TransformRule{Type: TransformRegex, Pattern: `\s+`, Replace: " "}, "a  b\n\tc", "a b c"},
		{"regex case insensitive", TransformRule{Type: TransformRegex, Pattern: "giá:", Flags: "gi", Replace: ""}, "GIÁ: 10", " 10"},
		{"regex groups", TransformRule{Type: TransformRegex, Pattern: `(\d+)kg`, Replace: "$1 kg"}, "5kg", "5 kg"},
		{"to number", TransformRule{Type: TransformToNumber}, "Giá: 199.000đ", "199"},
		{"to number decimal", TransformRule{Type: TransformToNumber}, "$12.50", "12.5"},
		{"to number no digits", TransformRule{Type: TransformToNumber}, "liên hệ", "0"},
		{"remove non digit", TransformRule{Type: TransformRemoveNonDigit}, "Giá: 199.000đ", "199000"},
		{"strip tags", TransformRule{Type: TransformStripTags}, " <p>Xin <b>chào</b></p> ", "Xin chào"},
		{"max length", TransformRule{Type: TransformMaxLength, Max: 5}, "abcdefgh", "abcde"},
		{"max length ellipsis", TransformRule{Type: TransformMaxLength, Max: 3, Ellipsis: true}, "điện thoại", "điệ..."},
		{"max length short", TransformRule{Type: TransformMaxLength, Max: 30}, "short", "short"},
		{"add prefix", TransformRule{Type: TransformAddPrefix, Value: "SKU-"}, "123", "SKU-123"},
		{"add suffix", TransformRule{Type: TransformAddSuffix, Value: " kg"}, "5", "5 kg"},
		{"to lower", TransformRule{Type: TransformToLower}, "HELLO Đà", "hello đà"},
		{"to upper", TransformRule{Type: TransformToUpper}, "hello", "HELLO"},
		{"format price", TransformRule{Type: TransformFormatPrice, Suffix: "đ"}, "1234567", "1.234.567đ"},
		{"format price from text", TransformRule{Type: TransformFormatPrice, Suffix: " đ"}, "Giá 250000", "250.000 đ"},
		{"format price english", TransformRule{Type: TransformFormatPrice, Suffix: " USD", Locale: "en"}, "1234567", "1,234,567 USD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.rule.Validate(); err != nil {
				t.Fatalf("rule failed validation: %v", err)
			}
			got, err := tt.rule.Apply(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestTransformList_SkipsFailingStep(t *testing.T) {
	chain := TransformList{
		{Type: TransformTrim},
		{Type: TransformRegex, Pattern: "([unclosed"},
		{Type: "explode"},
		{Type: TransformMaxLength},
		{Type: TransformAddSuffix, Value: "!"},
	}

	var skipped []int
	got := chain.ApplyWithObserver("  xin chào  ", func(i int, rule TransformRule, err error) {
		if !errors.Is(err, errors.ErrTransformStep) {
			t.Errorf("step %d: expected transform step error, got %v", i, err)
		}
		skipped = append(skipped, i)
	})

	if got != "xin chào!" {
		t.Errorf("expected %q, got %q", "xin chào!", got)
	}
	if len(skipped) != 3 || skipped[0] != 1 || skipped[1] != 2 || skipped[2] != 3 {
		t.Errorf("expected steps 1, 2 and 3 to be skipped, got %v", skipped)
	}
}

func TestTransformList_EveryStepFailing(t *testing.T) {
	chain := TransformList{
		{Type: TransformRegex, Pattern: "("},
		{Type: TransformReplace},
		{Type: ""},
	}
	if got := chain.Apply("unchanged"); got != "unchanged" {
		t.Errorf("expected value to be unchanged, got %q", got)
	}
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		value    float64
		expected string
	}{
		{1234567, "1.234.567đ"},
		{999, "999đ"},
		{0, "0đ"},
		{1999.6, "2.000đ"},
		{-1500, "-1.500đ"},
		{1e20, "100.000.000.000.000.000.000đ"},
	}
	for _, tt := range tests {
		if got := FormatPrice(tt.value, language.Vietnamese, "đ"); got != tt.expected {
			t.Errorf("FormatPrice(%v) = %q, want %q", tt.value, got, tt.expected)
		}
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
	}{
		{"123", 123},
		{"-5.5", -5.5},
		{"1.234.567", 1.234},
		{"abc", 0},
		{"", 0},
		{"--", 0},
		{".5kg", 0.5},
	}
	for _, tt := range tests {
		if got := ParseNumber(tt.input); got != tt.expected {
			t.Errorf("ParseNumber(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestTransformRule_Validate(t *testing.T) {
	tests := []struct {
		name     string
		rule     TransformRule
		wantErr  bool
		wantWarn bool
	}{
		{"trim", TransformRule{Type: TransformTrim}, false, false},
		{"empty type", TransformRule{}, true, false},
		{"unknown", TransformRule{Type: "uppercase"}, true, false},
		{"regex ok", TransformRule{Type: TransformRegex, Pattern: `\d+`}, false, false},
		{"regex bad pattern", TransformRule{Type: TransformRegex, Pattern: "(["}, false, true},
		{"regex bad flag", TransformRule{Type: TransformRegex, Pattern: "a", Flags: "x"}, false, true},
		{"regex missing pattern", TransformRule{Type: TransformRegex}, true, false},
		{"replace missing find", TransformRule{Type: TransformReplace, Replace: "x"}, true, false},
		{"max length zero", TransformRule{Type: TransformMaxLength}, true, false},
		{"prefix without value", TransformRule{Type: TransformAddPrefix}, true, false},
		{"bad locale", TransformRule{Type: TransformFormatPrice, Locale: "!!"}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error=%v, got %v", tt.wantErr, err)
			}
			if warn := tt.rule.Warning(); (warn != nil) != tt.wantWarn {
				t.Errorf("expected warning=%v, got %v", tt.wantWarn, warn)
			}
		})
	}
}

func TestTransformRule_UnmarshalYAML(t *testing.T) {
	src := `
- type: trim
- type: regex
  pattern: "\\s+"
  flags: g
  replace: " "
- type: formatPrice
  suffix: "đ"
`
	var list TransformList
	if err := yaml.Unmarshal([]byte(src), &list); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(list))
	}
	if got := list.Apply("  1000000  "); got != "1.000.000đ" {
		t.Errorf("expected 1.000.000đ, got %q", got)
	}

	withBadRegex := "- type: regex\n  pattern: \"([\"\n- type: trim\n"
	var lenient TransformList
	if err := yaml.Unmarshal([]byte(withBadRegex), &lenient); err != nil {
		t.Fatalf("a bad regex should not reject the list: %v", err)
	}
	if lenient[0].Warning() == nil {
		t.Error("expected a warning for the bad regex")
	}
	if got := lenient.Apply("  giữ nguyên  "); got != "giữ nguyên" {
		t.Errorf("bad regex step should be skipped, got %q", got)
	}

	bad := "- type: explode\n"
	if err := yaml.Unmarshal([]byte(bad), &list); err == nil || !strings.Contains(err.Error(), "unknown transform type") {
		t.Errorf("expected unknown transform error, got %v", err)
	}
}
