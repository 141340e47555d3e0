package sinks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rawbytedev/tamer"
	"github.com/rawbytedev/tamer/pkg/config"
	"github.com/rawbytedev/tamer/pkg/sinks/filesink"
)

func TestOpenFromConfig(t *testing.T) {
	dir := t.TempDir()
	c := config.Default().Sinks
	c.File.Path = filepath.Join(dir, "run.tamr")
	c.Badger.Dir = filepath.Join(dir, "badger")
	c.JSON.Path = filepath.Join(dir, "run.jsonl")

	set, err := Open(context.Background(), c, config.RotationConfig{}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"file", "badger", "json"}, set.Names)

	reg := tamer.NewRegistry()
	for _, s := range set.Sinks {
		reg.AddDefaultSink(s)
	}
	ch := reg.Channel("pump")
	var flow float32 = 1.5
	_, err = tamer.RegisterValue(ch, "flow", &flow)
	require.NoError(t, err)
	require.NoError(t, ch.Snapshot())
	require.NoError(t, set.Close())

	rd, err := filesink.Open(c.File.Path)
	require.NoError(t, err)
	defer rd.Close()
	n := 0
	require.NoError(t, rd.Walk(func(f tamer.Frame, values []tamer.Value) error {
		n++
		require.Equal(t, float32(1.5), tamer.ValueMap(values)["flow"])
		return nil
	}))
	require.Equal(t, 1, n)

	raw, err := os.ReadFile(c.JSON.Path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"flow":1.5`)
}

func TestOpenNothing(t *testing.T) {
	set, err := Open(context.Background(), config.SinksConfig{}, config.RotationConfig{}, nil)
	require.NoError(t, err)
	require.Empty(t, set.Sinks)
	require.NoError(t, set.Close())
}

func TestOpenFailureClosesOpened(t *testing.T) {
	dir := t.TempDir()
	c := config.SinksConfig{}
	c.File.Path = filepath.Join(dir, "ok.tamr")
	c.JSON.Path = filepath.Join(dir, "missing", "out.jsonl")
	_, err := Open(context.Background(), c, config.RotationConfig{}, nil)
	require.Error(t, err)

	rd, err := filesink.Open(c.File.Path)
	require.NoError(t, err)
	require.NoError(t, rd.Close())
}
