// Package catalog resolves model identifiers to the paths handed to the
// native loader.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

// EnvModelsDir names the fallback models directory.
const EnvModelsDir = "MNNLLM_MODELS_DIR"

// bundleConfig marks a directory as an MNN model bundle.
const bundleConfig = "config.json"

var modelExts = []string{".mnn", ".gguf"}

type Config struct {
	DefaultModelPath string
	ModelsPath       string
}

type Catalog struct {
	cfg Config
}

// Model is one loadable entry. Path is what the native loader receives: the
// model file, or the config.json of a bundle directory.
type Model struct {
	Name string
	Path string
	Size int64
}

func New(cfg Config) *Catalog {
	return &Catalog{cfg: cfg}
}

// Dir returns the configured models directory, falling back to EnvModelsDir.
func (c *Catalog) Dir() string {
	if dir := strings.TrimSpace(c.cfg.ModelsPath); dir != "" {
		return dir
	}
	return strings.TrimSpace(os.Getenv(EnvModelsDir))
}

// Resolve maps a model id to a loadable path. Path-like ids are used as is,
// bare names are looked up in the models directory, and an empty id selects
// the default model (itself a path or a name) or the only model present.
func (c *Catalog) Resolve(modelID string) (string, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID != "" {
		if looksLikePath(modelID) {
			return loadPath(filepath.Clean(modelID)), nil
		}
		dir := c.Dir()
		if dir == "" {
			return "", fmt.Errorf("models-path is required to resolve model %q", modelID)
		}
		models, err := c.Discover()
		if err != nil {
			return "", err
		}
		for _, m := range models {
			if m.Name == modelID {
				return m.Path, nil
			}
		}
		return "", fmt.Errorf("model %q not found in %s", modelID, dir)
	}

	if def := strings.TrimSpace(c.cfg.DefaultModelPath); def != "" {
		return c.Resolve(def)
	}
	dir := c.Dir()
	if dir == "" {
		return "", fmt.Errorf("model is required")
	}
	models, err := c.Discover()
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 1:
		return models[0].Path, nil
	case 0:
		return "", fmt.Errorf("no models found in %s", dir)
	default:
		return "", fmt.Errorf("multiple models found in %s; specify model", dir)
	}
}

// Discover lists the models in the models directory, sorted by name.
func (c *Catalog) Discover() ([]Model, error) {
	dir := c.Dir()
	if dir == "" {
		return nil, nil
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("models path is not a directory: %s", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	models := make([]Model, 0, len(ents))
	for _, e := range ents {
		full := filepath.Join(dir, e.Name())
		if e.IsDir() {
			cfg := filepath.Join(full, bundleConfig)
			if !fileExists(cfg) {
				continue
			}
			models = append(models, Model{Name: e.Name(), Path: cfg, Size: dirSize(full)})
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !isModelExt(ext) {
			continue
		}
		var size int64
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		models = append(models, Model{
			Name: strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			Path: full,
			Size: size,
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models, nil
}

// List returns the discovered models plus the default model when it lives
// outside the models directory, sorted by name.
func (c *Catalog) List() ([]Model, error) {
	models, err := c.Discover()
	if err != nil {
		return nil, err
	}
	if def := c.cfg.DefaultModelPath; def != "" && looksLikePath(def) {
		path := loadPath(filepath.Clean(c.cfg.DefaultModelPath))
		if !slices.ContainsFunc(models, func(m Model) bool { return m.Path == path }) {
			var size int64
			if info, err := os.Stat(path); err == nil {
				size = info.Size()
			}
			models = append(models, Model{Name: modelName(path), Path: path, Size: size})
		}
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models, nil
}

func modelName(path string) string {
	path = filepath.Clean(path)
	if filepath.Base(path) == bundleConfig {
		return filepath.Base(filepath.Dir(path))
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// loadPath turns a bundle directory into its config.json path.
func loadPath(path string) string {
	if st, err := os.Stat(path); err == nil && st.IsDir() {
		return filepath.Join(path, bundleConfig)
	}
	return path
}

func looksLikePath(v string) bool {
	if strings.ContainsRune(v, filepath.Separator) || strings.Contains(v, "/") {
		return true
	}
	return isModelExt(strings.ToLower(filepath.Ext(v))) || filepath.Base(v) == bundleConfig
}

func isModelExt(ext string) bool {
	return slices.Contains(modelExts, ext)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// FormatSize renders a byte count for listings.
func FormatSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
