package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	var out bytes.Buffer
	cmd := newRootCmd(env(nil))
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("%v %+v", args, err)
	}
	return out.String()
}

func readOnePDM(t *testing.T, path string) onePDM {
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	var dm onePDM
	if err := json.Unmarshal(b, &dm); err != nil {
		t.Fatalf("%+v", err)
	}
	return dm
}

func trace(dm onePDM) float64 {
	var tr float64
	for i := range dm.Alpha {
		tr += dm.Alpha[i][i] + dm.Beta[i][i]
	}
	return tr
}

// At mu = u/2 the Hubbard chain stays half filled at any temperature.
func TestRunHalfFilling(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	fcidumpPath := filepath.Join(dir, "FCIDUMP")
	execute(t, "fcidump", "-n", "3", "-u", "4", "-o", fcidumpPath)

	cfgPath := filepath.Join(dir, "run.yaml")
	content := fmt.Sprintf(`
scratch: %s
memory: 268435456
threads: 2
representation: sz
fcidump: %s
beta: 0.3
beta_step: 0.1
mu: 2
bond_dims: [64]
first_sub_sweeps: 2
output: %s
`, filepath.Join(dir, "scratch"), fcidumpPath, filepath.Join(dir, "1pdm.json"))
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("%+v", err)
	}

	execute(t, "run", "-c", cfgPath, "--run-id", "half")
	dm := readOnePDM(t, filepath.Join(dir, "1pdm.json"))
	require.Equal(t, "half", dm.RunID)
	require.Len(t, dm.Alpha, 3)
	require.InDelta(t, 3, trace(dm), 1e-6)
	for i := range dm.Alpha {
		for j := range dm.Alpha {
			require.InDelta(t, dm.Alpha[i][j], dm.Alpha[j][i], 1e-12)
		}
	}

	_, err := os.Stat(filepath.Join(dir, "scratch", fnameLog))
	require.NoError(t, err)
}

// Running the phases in separate processes gives the same density matrix as
// a single run.
func TestPhases(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	fcidumpPath := filepath.Join(dir, "FCIDUMP")
	execute(t, "fcidump", "-n", "2", "-u", "4", "-o", fcidumpPath)

	write := func(name string) string {
		content := fmt.Sprintf(`
scratch: %s
memory: 268435456
fcidump: %s
beta: 0.3
beta_step: 0.1
mu: 1
bond_dims: [64]
first_sub_sweeps: 3
n_sub_sweeps: 2
output: %s
`, filepath.Join(dir, name), fcidumpPath, filepath.Join(dir, name+".json"))
		path := filepath.Join(dir, name+".yaml")
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("%+v", err)
		}
		return path
	}

	single := write("single")
	execute(t, "run", "-c", single)

	phased := write("phased")
	execute(t, "init", "-c", phased)
	execute(t, "evolve", "-c", phased, "--n-steps", "1", "--n-sub-sweeps", "3")
	execute(t, "evolve", "-c", phased, "--n-steps", "2", "--cont")
	execute(t, "rdm", "-c", phased)

	want := readOnePDM(t, filepath.Join(dir, "single.json"))
	got := readOnePDM(t, filepath.Join(dir, "phased.json"))
	for i := range want.Alpha {
		require.InDeltaSlice(t, want.Alpha[i], got.Alpha[i], 1e-12)
		require.InDeltaSlice(t, want.Beta[i], got.Beta[i], 1e-12)
	}
}

// The density matrix of a run at cutoff zero agrees with exact diagonalization,
// also when the exact matrix is read back from disk.
func TestExact(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	fcidumpPath := filepath.Join(dir, "FCIDUMP")
	execute(t, "fcidump", "-n", "2", "-u", "4", "-o", fcidumpPath)

	write := func(name string) string {
		content := fmt.Sprintf(`
scratch: %s
memory: 268435456
cutoff: 0
fcidump: %s
beta: 0.2
beta_step: 0.1
mu: 1.5
bond_dims: [1000]
reorder: [1, 0]
output: %s
`, filepath.Join(dir, "scratch"), fcidumpPath, filepath.Join(dir, name+".json"))
		path := filepath.Join(dir, name+".yaml")
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("%+v", err)
		}
		return path
	}

	execute(t, "run", "-c", write("dmrg"))
	cooDir := filepath.Join(dir, "coo")
	execute(t, "exact", "-c", write("exact"), "--coo", cooDir)
	execute(t, "exact", "-c", write("reread"), "--from-coo", cooDir)

	_, err := os.Stat(filepath.Join(cooDir, "shape.csv"))
	require.NoError(t, err)
	dmrg := readOnePDM(t, filepath.Join(dir, "dmrg.json"))
	exact := readOnePDM(t, filepath.Join(dir, "exact.json"))
	reread := readOnePDM(t, filepath.Join(dir, "reread.json"))
	require.Len(t, exact.Alpha, 2)
	for i := range exact.Alpha {
		require.InDeltaSlice(t, exact.Alpha[i], dmrg.Alpha[i], 1e-5)
		require.InDeltaSlice(t, exact.Beta[i], dmrg.Beta[i], 1e-5)
		require.InDeltaSlice(t, exact.Alpha[i], reread.Alpha[i], 1e-12)
	}
}
