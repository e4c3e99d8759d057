package app

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"thetaauto/domain/core"
	"thetaauto/domain/model"
	"thetaauto/domain/setting"
)

// ModelDistributionSignal is the top-level setting holding the prior of
// beta_signal used when the model generates toys
const ModelDistributionSignal = "model-distribution-signal"

// ConfigWriter renders engine configuration files into a work directory
type ConfigWriter struct {
	WorkDir string
	Options model.CfgOptions
}

// NewConfigWriter creates a config writer for workDir
func NewConfigWriter(workDir string, opts model.CfgOptions) *ConfigWriter {
	return &ConfigWriter{WorkDir: workDir, Options: opts}
}

// Document assembles the parameters, observables and model settings of m for
// the selected signal processes, plus the extra top-level settings. When a
// signal is selected and extra has no signal prior, beta_signal is fixed to 1.
func (w *ConfigWriter) Document(m *model.Model, signal []string, extra setting.Map) (setting.Document, error) {
	modelCfg, err := m.ModelCfg(signal, w.Options)
	if err != nil {
		return nil, err
	}
	params, err := m.Parameters(signal, true)
	if err != nil {
		return nil, err
	}

	doc := setting.Document{
		"parameters":  setting.Strings(parameterList(params, m.Distribution.Parameters())),
		"observables": m.ObservablesCfg(),
		"model":       modelCfg,
	}
	for key, value := range extra {
		doc[key] = value
	}
	if _, ok := doc[ModelDistributionSignal]; !ok && len(signal) > 0 {
		doc[ModelDistributionSignal] = DeltaDistribution(map[string]float64{model.BetaSignal: 1.0})
	}
	return doc, nil
}

// parameterList is the sorted union of the given names and beta_signal
func parameterList(lists ...[]string) []string {
	seen := map[string]bool{model.BetaSignal: true}
	for _, list := range lists {
		for _, name := range list {
			seen[name] = true
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Path returns the configuration file of name
func (w *ConfigWriter) Path(name string) string {
	return filepath.Join(w.WorkDir, name+".cfg")
}

// Write encodes doc to <workdir>/<name>.cfg and returns the content hash
func (w *ConfigWriter) Write(name string, doc setting.Document) (core.ConfigHash, error) {
	text, err := doc.Encode()
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", name, err)
	}
	if err := os.MkdirAll(w.WorkDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(w.Path(name), []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	return core.NewConfigHash([]byte(text)), nil
}

// DeltaDistribution fixes each named parameter to its value
func DeltaDistribution(values map[string]float64) setting.Value {
	m := setting.Map{"type": setting.S("delta_distribution")}
	for name, v := range values {
		m[name] = setting.F(v)
	}
	return setting.M(m)
}

// ProductDistribution multiplies the given distributions or references
func ProductDistribution(distributions ...setting.Value) setting.Value {
	return setting.M(setting.Map{
		"type":          setting.S("product_distribution"),
		"distributions": setting.L(distributions...),
	})
}

// SQLiteDatabase is the output database setting writing to filename
func SQLiteDatabase(filename string) setting.Value {
	return setting.M(setting.Map{
		"type":     setting.S("sqlite_database"),
		"filename": setting.S(filename),
	})
}

// DataSource feeds the data histograms of m to the engine
func DataSource(m *model.Model) setting.Value {
	src := setting.Map{
		"type": setting.S("histo_source"),
		"name": setting.S("source"),
	}
	for _, obs := range m.Observables() {
		if h, ok := m.DataHistogram(obs); ok {
			src[obs] = model.HistoCfg(h)
		}
	}
	return setting.M(src)
}

// ModelSource generates toys from the model with a fixed seed
func ModelSource(seed int) setting.Value {
	return setting.M(setting.Map{
		"type":    setting.S("model_source"),
		"name":    setting.S("source"),
		"model":   setting.S("@model"),
		"rnd_gen": setting.M(setting.Map{"seed": setting.I(seed)}),
	})
}

// PluginOptions lists the engine plugin libraries to load
func PluginOptions(pluginFiles []string) setting.Value {
	return setting.M(setting.Map{"plugin_files": setting.Strings(pluginFiles)})
}
