package gridfile

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"GridWatch/internal/domain/models"
	"GridWatch/internal/services/grid"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

const DefaultPath = "config.json"

var (
	// ErrTemplateCreated means no grid file existed and a template was written.
	ErrTemplateCreated = errors.New("grid configuration template created")
	ErrInvalidConfig   = errors.New("invalid grid configuration")
)

// Keys lists every required key in template order.
var Keys = []string{
	"baseCurrency",
	"quoteCurrency",
	"centralPrice",
	"amountAsQuote",
	"upperLevelsCount",
	"downLevelsCount",
	"interLevelsDelta",
}

// MissingKeysError lists the required keys absent from a grid file.
type MissingKeysError struct {
	Path string
	Keys []string
}

func (e *MissingKeysError) Error() string {
	return fmt.Sprintf("grid file %s is missing: %s", e.Path, strings.Join(e.Keys, ", "))
}

func (e *MissingKeysError) Is(target error) bool { return target == ErrInvalidConfig }

// template keeps numbers as JSON numbers and fields in Keys order.
type template struct {
	BaseCurrency     string  `json:"baseCurrency"`
	QuoteCurrency    string  `json:"quoteCurrency"`
	CentralPrice     float64 `json:"centralPrice"`
	AmountAsQuote    float64 `json:"amountAsQuote"`
	UpperLevelsCount int     `json:"upperLevelsCount"`
	DownLevelsCount  int     `json:"downLevelsCount"`
	InterLevelsDelta float64 `json:"interLevelsDelta"`
}

var defaultTemplate = template{
	BaseCurrency:     "BTCF0",
	QuoteCurrency:    "USTF0",
	CentralPrice:     29000,
	AmountAsQuote:    2.0,
	UpperLevelsCount: 20,
	DownLevelsCount:  20,
	InterLevelsDelta: 200,
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return v
}

// Load reads the grid file at path. A missing file is replaced by the
// template and ErrTemplateCreated is returned.
func Load(path string, maxLevels int) (*models.GridSettings, error) {
	if path == "" {
		path = DefaultPath
	}

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if werr := WriteTemplate(path); werr != nil {
			return nil, werr
		}
		return nil, fmt.Errorf("%s: %w", path, ErrTemplateCreated)
	}
	if err != nil {
		return nil, fmt.Errorf("read grid file: %w", err)
	}

	return Parse(path, b, maxLevels)
}

// Parse decodes and validates grid file contents.
func Parse(path string, b []byte, maxLevels int) (*models.GridSettings, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}

	var missing []string
	for _, k := range Keys {
		if _, ok := raw[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingKeysError{Path: path, Keys: missing}
	}

	var s models.GridSettings
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	if err := Validate(&s, maxLevels); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate applies field rules and the level bound.
func Validate(s *models.GridSettings, maxLevels int) error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s%s", fe.Field(), fe.Tag(), param(fe)))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := grid.CheckBounds(s.GridConfig(), maxLevels); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func param(fe validator.FieldError) string {
	if fe.Param() == "" {
		return ""
	}
	return "=" + fe.Param()
}

// WriteTemplate writes the default grid file with 4-space indentation.
func WriteTemplate(path string) error {
	b, err := json.MarshalIndent(defaultTemplate, "", "    ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write grid template: %w", err)
	}
	return nil
}

// Entries renders the settings as ordered key/value pairs for display.
func Entries(s *models.GridSettings) [][2]string {
	return [][2]string{
		{"baseCurrency", s.BaseCurrency},
		{"quoteCurrency", s.QuoteCurrency},
		{"centralPrice", s.CentralPrice.String()},
		{"amountAsQuote", s.AmountAsQuote.String()},
		{"upperLevelsCount", fmt.Sprint(s.UpperLevelsCount)},
		{"downLevelsCount", fmt.Sprint(s.DownLevelsCount)},
		{"interLevelsDelta", s.InterLevelsDelta.String()},
	}
}
