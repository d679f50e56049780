package config_test

import (
	"github.com/pkg/errors"
	"github.com/sw965/ganbert/config"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"label_list": ["neg", "pos"], "train_batch_size": 4, "dropout": 0.25}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	d := config.Default()
	if c.TrainBatchSize != 4 {
		t.Errorf("train_batch_size = %d, want 4", c.TrainBatchSize)
	}
	if c.Dropout != 0.25 {
		t.Errorf("dropout = %f, want 0.25", c.Dropout)
	}
	if c.ValBatchSize != d.ValBatchSize || c.Epsilon != d.Epsilon || c.ArtifactPath != d.ArtifactPath {
		t.Errorf("defaults not filled: %+v", c)
	}
	if c.NumLabels() != 2 {
		t.Errorf("NumLabels = %d, want 2", c.NumLabels())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	c := config.Default()
	c.LabelList = []string{"a", "b", "c"}
	c.Seed = 7
	path := filepath.Join(t.TempDir(), "config.json")
	if err := c.Save(path); err != nil {
		t.Fatal(err)
	}
	got, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Seed != 7 || got.NumLabels() != 3 || got.LabelList[2] != "c" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestValidate(t *testing.T) {
	base := config.Default()
	base.LabelList = []string{"neg", "pos"}
	if err := base.Validate(); err != nil {
		t.Fatalf("default config with labels: %v", err)
	}

	tests := map[string]func(*config.Config){
		"no labels":        func(c *config.Config) { c.LabelList = nil },
		"duplicate label":  func(c *config.Config) { c.LabelList = []string{"a", "a"} },
		"only unlabeled":   func(c *config.Config) { c.LabelList = []string{c.UnlabeledLabel} },
		"zero epsilon":     func(c *config.Config) { c.Epsilon = 0 },
		"dropout one":      func(c *config.Config) { c.Dropout = 1 },
		"bad optimizer":    func(c *config.Config) { c.Optimizer = "sgd" },
		"zero batch":       func(c *config.Config) { c.ValBatchSize = 0 },
		"negative workers": func(c *config.Config) { c.Parallelism = -1 },
	}
	reserved := base
	reserved.LabelList = []string{base.UnlabeledLabel, "neg", "pos"}
	if err := reserved.Validate(); err != nil {
		t.Errorf("unlabeled_label reserved in label_list: %v", err)
	}

	for name, mutate := range tests {
		c := base
		c.LabelList = append([]string(nil), base.LabelList...)
		mutate(&c)
		if err := c.Validate(); !errors.Is(err, config.ErrInvalid) {
			t.Errorf("%s: got %v, want ErrInvalid", name, err)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Errorf("expected an error for a missing file")
	}
}
