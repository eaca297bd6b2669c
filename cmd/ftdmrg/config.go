package main

import (
	"bytes"
	"math"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/fumin/ftdmrg"
	"github.com/fumin/ftdmrg/errs"
	"github.com/fumin/ftdmrg/mps"
	"github.com/fumin/ftdmrg/symm"
)

// Environment variables overriding the run file.
const (
	envScratch = "FTDMRG_SCRATCH"
	envThreads = "FTDMRG_THREADS"
	envMemory  = "FTDMRG_MEMORY"
)

// runConfig is the YAML run file.
type runConfig struct {
	Scratch        string  `yaml:"scratch"`
	Memory         int64   `yaml:"memory"`
	Threads        int     `yaml:"threads"`
	Representation string  `yaml:"representation"`
	Cutoff         float64 `yaml:"cutoff"`

	PointGroup string `yaml:"point_group"`
	FCIDUMP    string `yaml:"fcidump"`

	// Beta is the imaginary time the ket is evolved by, half the inverse
	// temperature of the resulting thermal state.
	Beta     float64 `yaml:"beta"`
	BetaStep float64 `yaml:"beta_step"`
	Mu       float64 `yaml:"mu"`
	BondDims []int   `yaml:"bond_dims"`
	Method   string  `yaml:"method"`
	// FirstSubSweeps is the number of sweeps of the first step, where the
	// bond dimensions are still growing.
	FirstSubSweeps int `yaml:"first_sub_sweeps"`
	NSubSweeps     int `yaml:"n_sub_sweeps"`

	Reorder []int  `yaml:"reorder"`
	Output  string `yaml:"output"`
}

func defaultRunConfig() runConfig {
	d := ftdmrg.NewConfig()
	return runConfig{
		Scratch:        d.Scratch,
		Memory:         d.Memory,
		Threads:        d.Threads,
		Representation: d.Representation.String(),
		Cutoff:         d.Cutoff,
		PointGroup:     "c1",
		FCIDUMP:        "FCIDUMP",
		Beta:           1,
		BetaStep:       0.1,
		BondDims:       []int{500},
		Method:         mps.RK4.String(),
		FirstSubSweeps: 6,
		NSubSweeps:     2,
		Output:         "1pdm.json",
	}
}

// loadRunConfig reads the run file at path on top of the defaults, then
// applies the environment overrides. An empty path reads no file.
func loadRunConfig(path string, getenv func(string) string) (runConfig, error) {
	c := defaultRunConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return runConfig{}, errors.Wrap(err, "")
		}
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil {
			return runConfig{}, errs.Configf("%s: %v", path, err)
		}
	}

	if v := getenv(envScratch); v != "" {
		c.Scratch = v
	}
	if v := getenv(envThreads); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return runConfig{}, errs.Configf("%s=%q", envThreads, v)
		}
		c.Threads = n
	}
	if v := getenv(envMemory); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return runConfig{}, errs.Configf("%s=%q", envMemory, v)
		}
		c.Memory = int64(f)
	}
	return c, nil
}

// nSteps returns the number of macro-steps that evolve the ket by Beta.
func (c runConfig) nSteps() int {
	return int(math.Round(c.Beta / c.BetaStep))
}

func (c runConfig) validate() error {
	switch {
	case !(c.BetaStep > 0):
		return errs.Configf("beta_step %g", c.BetaStep)
	case c.Beta < 0:
		return errs.Configf("beta %g", c.Beta)
	case c.FirstSubSweeps < 1:
		return errs.Configf("first_sub_sweeps %d", c.FirstSubSweeps)
	}
	if _, err := mps.ParseMethod(c.Method); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func (c runConfig) ftdmrgConfig() (ftdmrg.Config, error) {
	rep, err := symm.ParseRepresentation(c.Representation)
	if err != nil {
		return ftdmrg.Config{}, errors.Wrap(err, "")
	}
	cfg := ftdmrg.NewConfig()
	cfg.Scratch = c.Scratch
	cfg.Memory = c.Memory
	cfg.Threads = c.Threads
	cfg.Representation = rep
	cfg.Cutoff = c.Cutoff
	return cfg, nil
}
