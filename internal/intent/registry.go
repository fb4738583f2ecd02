// Package intent — реестр всех интентов, доступных автоматизации.
// Реестр неизменяем после загрузки; наружу доступны только функции поиска.
package intent

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/xela07ax/spaceai-automation/internal/domain"
)

//go:embed intents.yaml
var defaultDefinitions []byte

var ErrInvalidParams = errors.New("intent: params do not match schema")

// Registry — неизменяемый каталог интентов с откомпилированными схемами параметров.
type Registry struct {
	intents map[string]domain.Intent
	params  map[string]*jsonschema.Schema
}

type fileFormat struct {
	Version int          `yaml:"version"`
	Intents []definition `yaml:"intents"`
}

type definition struct {
	domain.Intent  `yaml:",inline"`
	ParamsSchema   map[string]any `yaml:"params_schema"`
	ResponseSchema map[string]any `yaml:"response_schema"`
}

// Load разбирает YAML-определения интентов.
func Load(data []byte) (*Registry, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("intent: parse definitions: %w", err)
	}

	intents := make([]domain.Intent, 0, len(f.Intents))
	for _, d := range f.Intents {
		in := d.Intent
		if d.ParamsSchema != nil {
			raw, err := json.Marshal(d.ParamsSchema)
			if err != nil {
				return nil, fmt.Errorf("intent %s: encode params schema: %w", in.Key, err)
			}
			in.ParamsSchema = raw
		}
		if d.ResponseSchema != nil {
			raw, err := json.Marshal(d.ResponseSchema)
			if err != nil {
				return nil, fmt.Errorf("intent %s: encode response schema: %w", in.Key, err)
			}
			in.ResponseSchema = raw
		}
		intents = append(intents, in)
	}
	return New(intents...)
}

// New валидирует и замораживает набор интентов.
func New(intents ...domain.Intent) (*Registry, error) {
	r := &Registry{
		intents: make(map[string]domain.Intent, len(intents)),
		params:  make(map[string]*jsonschema.Schema),
	}
	for _, in := range intents {
		if err := validate(in); err != nil {
			return nil, err
		}
		if _, dup := r.intents[in.Key]; dup {
			return nil, fmt.Errorf("intent: duplicate key %q", in.Key)
		}
		if len(in.ParamsSchema) > 0 {
			s, err := compile(in.Key, in.ParamsSchema)
			if err != nil {
				return nil, err
			}
			r.params[in.Key] = s
		}
		r.intents[in.Key] = in
	}
	return r, nil
}

func validate(in domain.Intent) error {
	if in.Key == "" {
		return errors.New("intent: key is required")
	}
	if !in.Level.Valid() {
		return fmt.Errorf("intent %s: unknown automation level %q", in.Key, in.Level)
	}
	switch in.Level {
	case domain.LevelExecute:
		if in.Class != domain.ClassUnconditional && in.Class != domain.ClassGated {
			return fmt.Errorf("intent %s: execute intent needs class unconditional|gated", in.Key)
		}
		if in.Class == domain.ClassGated && in.ActionKey == "" {
			return fmt.Errorf("intent %s: gated intent needs action_key", in.Key)
		}
	default:
		if in.Class != "" {
			return fmt.Errorf("intent %s: execution class is only meaningful for execute level", in.Key)
		}
	}
	return nil
}

func compile(key string, schema []byte) (*jsonschema.Schema, error) {
	url := "inmemory://intent/" + key
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("intent %s: add schema: %w", key, err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("intent %s: compile schema: %w", key, err)
	}
	return s, nil
}

// Default — реестр из встроенного intents.yaml, собирается один раз.
var Default = sync.OnceValues(func() (*Registry, error) {
	return Load(defaultDefinitions)
})

// Lookup возвращает метаданные интента.
func (r *Registry) Lookup(key string) (domain.Intent, bool) {
	if r == nil {
		return domain.Intent{}, false
	}
	in, ok := r.intents[key]
	return in, ok
}

// ByLevel возвращает интенты уровня, отсортированные по ключу.
func (r *Registry) ByLevel(level domain.AutomationLevel) []domain.Intent {
	out := make([]domain.Intent, 0)
	for _, in := range r.intents {
		if in.Level == level {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// All возвращает все интенты, отсортированные по ключу.
func (r *Registry) All() []domain.Intent {
	out := make([]domain.Intent, 0, len(r.intents))
	for _, in := range r.intents {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ValidateParams проверяет параметры по params_schema интента. Без схемы — пропускает.
func (r *Registry) ValidateParams(key string, params map[string]any) error {
	s, ok := r.params[key]
	if !ok {
		return nil
	}
	payload, err := normalize(params)
	if err != nil {
		return err
	}
	if err := s.Validate(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// normalize приводит Go-значения к JSON-типам, которые понимает валидатор.
func normalize(params map[string]any) (any, error) {
	if params == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("intent: encode params: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("intent: decode params: %w", err)
	}
	return out, nil
}
