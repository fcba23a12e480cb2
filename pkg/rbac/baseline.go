package rbac

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/warden/pkg/access"
)

//go:embed baseline.yaml
var defaultBaseline []byte

type baselineFile struct {
	Templates []*Template `yaml:"templates"`
}

// DefaultBaseline returns the embedded baseline templates
func DefaultBaseline() []*Template {
	templates, err := LoadBaseline(bytes.NewReader(defaultBaseline))
	if err != nil {
		panic(fmt.Sprintf("embedded baseline is invalid: %v", err))
	}
	return templates
}

// LoadBaselineFile reads baseline templates from a YAML file
func LoadBaselineFile(path string) ([]*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open baseline file: %w", err)
	}
	defer f.Close()
	return LoadBaseline(f)
}

// LoadBaseline decodes and validates baseline templates. Names and ranks
// must be unique.
func LoadBaseline(r io.Reader) ([]*Template, error) {
	var file baselineFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode baseline: %w", err)
	}
	if len(file.Templates) == 0 {
		return nil, access.Invalid("templates", "baseline defines no templates")
	}

	names := make(map[string]bool)
	ranks := make(map[Rank]string)
	for _, t := range file.Templates {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("template %q: %w", t.Name, err)
		}
		if names[t.Name] {
			return nil, access.Invalid("name", "duplicate template %q", t.Name)
		}
		if other, ok := ranks[t.Rank]; ok {
			return nil, access.Invalid("rank", "templates %q and %q share rank %d", other, t.Name, t.Rank)
		}
		names[t.Name] = true
		ranks[t.Rank] = t.Name
		if t.Capabilities == nil {
			t.Capabilities = map[string]bool{}
		}
		if t.FeatureLimits == nil {
			t.FeatureLimits = map[string]int64{}
		}
		if t.Marketplaces == nil {
			t.Marketplaces = MarketplaceAccess{}
		}
	}
	return file.Templates, nil
}
