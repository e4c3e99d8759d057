package app

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thetaauto/domain/core"
	"thetaauto/domain/model"
	"thetaauto/domain/setting"
)

func TestDocumentSettings(t *testing.T) {
	w := NewConfigWriter(t.TempDir(), model.CfgOptions{})
	m := model.SimpleCounting(5, 10, 100, 10, nil)

	doc, err := w.Document(m, []string{"s"}, setting.Map{"main": setting.M(nil)})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"parameters", "observables", "model", "main", ModelDistributionSignal}, setting.Map(doc).Keys())
	assert.Equal(t, setting.Strings([]string{"beta_signal", "bunc"}), doc["parameters"])
	assert.Equal(t, DeltaDistribution(map[string]float64{model.BetaSignal: 1.0}), doc[ModelDistributionSignal])
}

func TestDocumentKeepsExplicitSignalPrior(t *testing.T) {
	w := NewConfigWriter(t.TempDir(), model.CfgOptions{})
	m := model.SimpleCounting(5, 10, 100, 10, nil)
	prior := DeltaDistribution(map[string]float64{model.BetaSignal: 0.0})

	doc, err := w.Document(m, []string{"s"}, setting.Map{ModelDistributionSignal: prior})
	require.NoError(t, err)
	assert.Equal(t, prior, doc[ModelDistributionSignal])
}

func TestDocumentWithoutSignal(t *testing.T) {
	w := NewConfigWriter(t.TempDir(), model.CfgOptions{})
	m := model.SimpleCounting(5, 10, 100, 10, nil)

	doc, err := w.Document(m, nil, nil)
	require.NoError(t, err)
	_, ok := doc[ModelDistributionSignal]
	assert.False(t, ok)
	assert.Equal(t, setting.Strings([]string{"beta_signal", "bunc"}), doc["parameters"])
}

func TestDocumentUnknownSignal(t *testing.T) {
	w := NewConfigWriter(t.TempDir(), model.CfgOptions{})
	m := model.SimpleCounting(5, 10, 100, 10, nil)
	_, err := w.Document(m, []string{"b"}, nil)
	assert.ErrorIs(t, err, core.ErrUnknownSignal)
}

func TestWriteIsReproducible(t *testing.T) {
	dir := t.TempDir()
	w := NewConfigWriter(filepath.Join(dir, "work"), model.CfgOptions{})
	m := model.SimpleCounting(5, 10, 100, 10, nil)

	doc, err := w.Document(m, []string{"s"}, nil)
	require.NoError(t, err)
	hash1, err := w.Write("model-s", doc)
	require.NoError(t, err)
	first, err := os.ReadFile(w.Path("model-s"))
	require.NoError(t, err)

	doc, err = w.Document(m, []string{"s"}, nil)
	require.NoError(t, err)
	hash2, err := w.Write("model-s", doc)
	require.NoError(t, err)
	second, err := os.ReadFile(w.Path("model-s"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, hash1, hash2)
	assert.Equal(t, core.NewConfigHash(first), hash1)

	text := string(first)
	assert.True(t, strings.HasPrefix(text, "model = {\n"))
	assert.Contains(t, text, "\nparameters = (\"beta_signal\",\"bunc\");\n")
	assert.Contains(t, text, "\"@model-distribution-signal\"")
}

func TestWriteRejectsNaN(t *testing.T) {
	w := NewConfigWriter(t.TempDir(), model.CfgOptions{})
	_, err := w.Write("bad", setting.Document{"x": setting.F(math.NaN())})
	assert.ErrorIs(t, err, core.ErrInvalidValue)
	assert.NoFileExists(t, w.Path("bad"))
}
