package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pricing maps chat model names to the credit multiplier applied to raw token usage.
type Pricing struct {
	DefaultMultiplier float64            `yaml:"default_multiplier"`
	Models            map[string]float64 `yaml:"models"`
}

func DefaultPricing() *Pricing {
	return &Pricing{DefaultMultiplier: 1, Models: map[string]float64{}}
}

// LoadPricing reads a YAML pricing file. An empty path yields DefaultPricing.
func LoadPricing(path string) (*Pricing, error) {
	if path == "" {
		return DefaultPricing(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	return ParsePricing(data)
}

func ParsePricing(data []byte) (*Pricing, error) {
	p := DefaultPricing()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse pricing file: %w", err)
	}
	if p.DefaultMultiplier <= 0 {
		p.DefaultMultiplier = 1
	}
	normalized := make(map[string]float64, len(p.Models))
	for name, m := range p.Models {
		if m <= 0 {
			return nil, fmt.Errorf("pricing: multiplier for %q must be positive", name)
		}
		normalized[strings.ToLower(strings.TrimSpace(name))] = m
	}
	p.Models = normalized
	return p, nil
}

// Multiplier returns the multiplier for model, falling back to the default.
func (p *Pricing) Multiplier(model string) float64 {
	if p == nil {
		return 1
	}
	if m, ok := p.Models[strings.ToLower(strings.TrimSpace(model))]; ok {
		return m
	}
	return p.DefaultMultiplier
}
