// Package validation проверяет входящие JSON-документы по JSON Schema.
//
// Схемы встроены в бинарник: файлы из schemas/ - схемы верхнего уровня,
// файлы из schemas/refs/ - общие части, на которые они ссылаются.
package validation

import (
	"embed"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
)

// Идентификаторы схем верхнего уровня.
const (
	SchemaSubmit = "http://pereval.local/schemas/submit-data.json"
	SchemaPatch  = "http://pereval.local/schemas/patch-data.json"
)

//go:embed schemas/*.json schemas/refs/*.json
var schemaFS embed.FS

// FormatTimestamp - имя формата для меток времени клиента.
const FormatTimestamp = "timestamp"

// timestampLayouts - RFC 3339 и ISO 8601 без часового пояса, с "T" или пробелом.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// timestampChecker проверяет строку как дату и время по timestampLayouts.
type timestampChecker struct{}

func (timestampChecker) IsFormat(input any) bool {
	s, ok := input.(string)
	if !ok {
		return true
	}
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func init() {
	gojsonschema.FormatCheckers.Add(FormatTimestamp, timestampChecker{})
}

// ValidationError перечисляет все нарушения схемы в документе.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "документ не прошел проверку: " + strings.Join(e.Problems, "; ")
}

// Validator хранит скомпилированные схемы, доступ к нему безопасен из нескольких горутин.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// New компилирует встроенные схемы.
func New() (*Validator, error) {
	top, err := readSchemas("schemas")
	if err != nil {
		return nil, err
	}
	refs, err := readSchemas("schemas/refs")
	if err != nil {
		return nil, err
	}
	return NewValidator(top, refs)
}

// NewValidator компилирует схемы верхнего уровня. Каждая схема обязана иметь $id;
// ссылки ($ref) допускаются только на схемы из refs.
func NewValidator(schemas, refs []string) (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema, len(schemas))}
	for _, str := range schemas {
		var head struct {
			ID string `json:"$id"`
		}
		if err := json.Unmarshal([]byte(str), &head); err != nil {
			return nil, fmt.Errorf("ошибка разбора схемы: %w", err)
		}
		if head.ID == "" {
			return nil, fmt.Errorf("схема не содержит $id: %.60s", str)
		}

		loader := gojsonschema.NewSchemaLoader()
		for _, ref := range refs {
			if err := loader.AddSchemas(gojsonschema.NewStringLoader(ref)); err != nil {
				return nil, fmt.Errorf("ошибка добавления ссылочной схемы: %w", err)
			}
		}
		compiled, err := loader.Compile(gojsonschema.NewStringLoader(str))
		if err != nil {
			return nil, fmt.Errorf("ошибка компиляции схемы %s: %w", head.ID, err)
		}
		v.schemas[head.ID] = compiled
	}
	return v, nil
}

// HasSchema сообщает, известна ли схема с указанным идентификатором.
func (v *Validator) HasSchema(schemaID string) bool {
	_, ok := v.schemas[schemaID]
	return ok
}

// ValidateBytes проверяет JSON-документ. Нарушения схемы возвращаются как *ValidationError.
func (v *Validator) ValidateBytes(body []byte, schemaID string) error {
	schema, ok := v.schemas[schemaID]
	if !ok {
		return fmt.Errorf("неизвестная схема %s", schemaID)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		// Тело не является корректным JSON
		return &ValidationError{Problems: []string{"некорректный JSON: " + err.Error()}}
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return &ValidationError{Problems: problems}
}

// IsEmail проверяет строку форматом email из набора gojsonschema.
func IsEmail(s string) bool {
	return s != "" && gojsonschema.FormatCheckers.IsFormat("email", s)
}

func readSchemas(dir string) ([]string, error) {
	entries, err := schemaFS.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения каталога схем %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := schemaFS.ReadFile(path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения схемы %s: %w", e.Name(), err)
		}
		out = append(out, string(b))
	}
	return out, nil
}
