// Package fallback supplies sample pipeline output when the backend cannot.
// A Dataset is loaded once at startup and served through a per-stage Policy.
package fallback

import (
	_ "embed"
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadify-flow/internal/model"
)

//go:embed default.yaml
var defaultDataset []byte

// Dataset is the sample data the policy draws on. It is not modified after
// loading.
type Dataset struct {
	// Keywords is served verbatim for keyword extraction when set.
	Keywords any `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	// Queries is served for query generation when set.
	Queries []string              `yaml:"queries,omitempty" json:"queries,omitempty"`
	Ranked  []model.RankedProfile `yaml:"ranked" json:"ranked"`
}

// Default returns the built-in sample dataset.
func Default() (*Dataset, error) {
	ds, err := parse(defaultDataset)
	if err != nil {
		return nil, eris.Wrap(err, "fallback: parse built-in dataset")
	}
	return ds, nil
}

// Load reads a YAML or JSON dataset from path. An empty path returns the
// built-in dataset.
func Load(path string) (*Dataset, error) {
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fallback: read %s", path)
	}
	ds, err := parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "fallback: parse %s", path)
	}

	zap.L().Info("fallback: loaded dataset",
		zap.String("path", path),
		zap.Int("ranked", len(ds.Ranked)),
		zap.Int("queries", len(ds.Queries)),
	)
	return ds, nil
}

func parse(data []byte) (*Dataset, error) {
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, eris.Wrap(err, "fallback: decode dataset")
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// Validate checks that the dataset can stand in for a ranking response.
func (d *Dataset) Validate() error {
	if len(d.Ranked) == 0 {
		return eris.New("fallback: dataset has no ranked profiles")
	}
	for i, rp := range d.Ranked {
		if rp.Profile == nil || rp.Profile.Name == nil || strings.TrimSpace(*rp.Profile.Name) == "" {
			return eris.Errorf("fallback: ranked[%d] has no profile name", i)
		}
		if rp.Score == nil && rp.RelevancyScore == nil {
			return eris.Errorf("fallback: ranked[%d] has no score", i)
		}
	}
	if d.Keywords != nil {
		if _, err := json.Marshal(d.Keywords); err != nil {
			return eris.Wrap(err, "fallback: keywords are not JSON-encodable")
		}
	}
	return nil
}

// RankedCopy returns a copy of the ranked set. The profiles themselves are
// shared and must be treated as read-only.
func (d *Dataset) RankedCopy() []model.RankedProfile {
	out := make([]model.RankedProfile, len(d.Ranked))
	copy(out, d.Ranked)
	return out
}

// RankedBody returns the dataset encoded as a ranking response body.
func (d *Dataset) RankedBody() ([]byte, error) {
	body, err := json.Marshal(map[string]any{"ranked": d.Ranked})
	if err != nil {
		return nil, eris.Wrap(err, "fallback: encode ranked body")
	}
	return body, nil
}
