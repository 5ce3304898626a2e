package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blindrisk/fhecredit/internal/keystore"
	"github.com/blindrisk/fhecredit/internal/model"
)

// writeCreditARFF writes a synthetic file with the credit-g layout where long
// loans are bad.
func writeCreditARFF(t *testing.T, rows int) string {
	t.Helper()
	s := model.CreditSchema()

	var b strings.Builder
	b.WriteString("@relation credit-synthetic\n")
	for _, col := range s.Features {
		if dom, ok := s.Domains[col]; ok {
			quoted := make([]string, len(dom))
			for i, v := range dom {
				quoted[i] = "'" + v + "'"
			}
			fmt.Fprintf(&b, "@attribute %s {%s}\n", col, strings.Join(quoted, ","))
		} else {
			fmt.Fprintf(&b, "@attribute %s numeric\n", col)
		}
	}
	b.WriteString("@attribute class {good,bad}\n@data\n")

	for i := 0; i < rows; i++ {
		cells := make([]string, 0, len(s.Features)+1)
		duration := 6 + (i*7)%48
		for _, col := range s.Features {
			if dom, ok := s.Domains[col]; ok {
				cells = append(cells, "'"+dom[(i*3+len(col))%len(dom)]+"'")
				continue
			}
			switch col {
			case "duration":
				cells = append(cells, fmt.Sprint(duration))
			case "credit_amount":
				cells = append(cells, fmt.Sprint(500+(i*137)%9000))
			case "age":
				cells = append(cells, fmt.Sprint(19+(i*5)%50))
			default:
				cells = append(cells, fmt.Sprint(1+i%4))
			}
		}
		label := "good"
		if duration > 30 {
			label = "bad"
		}
		cells = append(cells, label)
		b.WriteString(strings.Join(cells, ",") + "\n")
	}

	path := filepath.Join(t.TempDir(), "credit.arff")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func TestTrainThenKeygen(t *testing.T) {
	data := writeCreditARFF(t, 120)
	out := t.TempDir()

	require.NoError(t, handleTrain([]string{"-data", data, "-out", out, "-log-level", "error"}))

	art, err := model.LoadArtifact(filepath.Join(out, "model.json"))
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTarget, art.Schema.Target)
	assert.Greater(t, art.MetricsClear.AUC, 0.8)

	srv, err := model.LoadServerArtifact(filepath.Join(out, "server.json"))
	require.NoError(t, err)
	assert.Equal(t, art.Model, srv.Model)
	assert.Equal(t, art.LogitBound, srv.LogitBound)
	assert.Len(t, art.Features, art.NumFeatures())

	keyDir := filepath.Join(out, "keys")
	args := []string{"-artifact", filepath.Join(out, "model.json"), "-keys", keyDir, "-log-level", "error"}
	require.NoError(t, handleKeygen(args))
	bundle := filepath.Join(keyDir, keystore.BundleFile)
	first, err := os.ReadFile(bundle)
	require.NoError(t, err)

	// a second run reuses the bundle
	require.NoError(t, handleKeygen(args))
	second, err := os.ReadFile(bundle)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTrainRequiresData(t *testing.T) {
	assert.Error(t, handleTrain(nil))
}

func TestResolveTarget(t *testing.T) {
	f := &model.Frame{Columns: []string{"a", "class", "b"}}
	assert.Equal(t, "class", resolveTarget(f, ""))
	assert.Equal(t, "b", resolveTarget(f, "b"))
	assert.Equal(t, "z", resolveTarget(&model.Frame{Columns: []string{"a", "z"}}, ""))
}
