package setting

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thetaauto/domain/core"
)

func TestEncodeScalars(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{"string", S("beta_signal"), `"beta_signal"`},
		{"escaped string", S(`/data/"run 1"\x.root`), `"/data/\"run 1\"\\x.root"`},
		{"control bytes", S("a\tb\nc\x01"), `"a\tb\nc\x01"`},
		{"utf-8 string", S("µ"), `"µ"`},
		{"true", B(true), "true"},
		{"false", B(false), "false"},
		{"int", I(42), "42"},
		{"float", F(1.0), "1.00000e+00"},
		{"small float", F(-0.00012345678), "-1.23457e-04"},
		{"inf", F(math.Inf(1)), `"inf"`},
		{"-inf", F(math.Inf(-1)), `"-inf"`},
		{"list", L(F(0), S("x"), I(3)), `(0.00000e+00,"x",3)`},
		{"empty list", L(), "()"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeMapSortsKeysAndIndents(t *testing.T) {
	v := M(Map{
		"type":  S("direct_data_histo"),
		"nbins": I(2),
		"inner": M(Map{"b": I(1), "a": I(2)}),
	})
	got, err := Encode(v)
	require.NoError(t, err)
	want := "{\n" +
		"    inner = {\n" +
		"        a = 2;\n" +
		"        b = 1;\n" +
		"    };\n" +
		"    nbins = 2;\n" +
		"    type = \"direct_data_histo\";\n" +
		"}"
	assert.Equal(t, want, got)
}

func TestEncodeRejectsNaN(t *testing.T) {
	_, err := Encode(M(Map{"x": L(F(math.NaN()))}))
	assert.ErrorIs(t, err, core.ErrInvalidValue)
}

func TestDocumentEncodeIsReproducible(t *testing.T) {
	build := func() Document {
		return Document{
			"parameters": Strings([]string{"beta_signal", "jes"}),
			"main":       M(Map{"n-events": I(10), "model": S("@model")}),
			"options":    M(Map{"plugin_files": L(S("$THETA_DIR/lib/core-plugins.so"))}),
		}
	}
	first, err := build().Encode()
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := build().Encode()
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
	assert.Contains(t, first, "parameters = (\"beta_signal\",\"jes\");\n")
}

func TestAppendCopies(t *testing.T) {
	base := L(S("a"))
	extended := base.Append(S("b"))
	items, _ := base.List()
	assert.Len(t, items, 1)
	items, _ = extended.List()
	assert.Len(t, items, 2)
	assert.Equal(t, S("x"), S("x").Append(S("y")))
}
