package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ftdmrg"
	"github.com/fumin/ftdmrg/exactdiag"
	"github.com/fumin/ftdmrg/fcidump"
	"github.com/fumin/ftdmrg/mps"
	"github.com/fumin/ftdmrg/pool"
)

const fnameLog = "ftdmrg.log"

// app holds the global flags and the resources of one invocation.
type app struct {
	getenv func(string) string

	configPath  string
	scratch     string
	threads     int
	verbose     int
	metricsAddr string
	runID       string

	cfg     runConfig
	logger  *slog.Logger
	logFile io.Closer
	reg     *prometheus.Registry
	server  *http.Server
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	a := &app{getenv: getenv}
	root := &cobra.Command{
		Use:   "ftdmrg",
		Short: "Finite-temperature DMRG with ancilla purification",
		Long: `ftdmrg evolves the infinite temperature purified state of a molecular
Hamiltonian in imaginary time and extracts the thermal one-particle density
matrix. States are kept in the scratch directory between phases.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "YAML run file")
	pf.StringVar(&a.scratch, "scratch", "", "scratch directory, overrides the run file")
	pf.IntVar(&a.threads, "threads", 0, "worker threads, overrides the run file")
	pf.CountVarP(&a.verbose, "verbose", "v", "log sweep details to stderr")
	pf.StringVar(&a.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	pf.StringVar(&a.runID, "run-id", "", "run id recorded with the stored states, random if empty")

	root.AddCommand(a.fcidumpCmd(), a.initCmd(), a.evolveCmd(), a.rdmCmd(), a.runCmd(), a.exactCmd())
	return root
}

// setup loads the run file and starts logging and metrics.
func (a *app) setup(cmd *cobra.Command) error {
	var err error
	a.cfg, err = loadRunConfig(a.configPath, a.getenv)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if f := cmd.Flags(); f.Changed("scratch") {
		a.cfg.Scratch = a.scratch
	}
	if f := cmd.Flags(); f.Changed("threads") {
		a.cfg.Threads = a.threads
	}
	if err := a.cfg.validate(); err != nil {
		return errors.Wrap(err, "")
	}
	if a.runID == "" {
		a.runID = uuid.NewString()
	}

	if err := os.MkdirAll(a.cfg.Scratch, 0755); err != nil {
		return errors.Wrap(err, "")
	}
	a.logger, a.logFile, err = newLogger(filepath.Join(a.cfg.Scratch, fnameLog), a.verbose)
	if err != nil {
		return errors.Wrap(err, "")
	}

	a.reg = prometheus.NewRegistry()
	a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if a.metricsAddr != "" {
		a.server = serveMetrics(a.metricsAddr, a.reg, a.logger)
	}
	return nil
}

func (a *app) teardown() error {
	var err error
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err1 := a.server.Shutdown(ctx); err1 != nil && err == nil {
			err = errors.Wrap(err1, "")
		}
	}
	if a.logFile != nil {
		if err1 := a.logFile.Close(); err1 != nil && err == nil {
			err = errors.Wrap(err1, "")
		}
	}
	return err
}

// newLogger fans out to a text handler on stderr and a JSON handler on the
// file at path, which records everything.
func newLogger(path string, verbose int) (*slog.Logger, io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	level := slog.LevelInfo
	if verbose > 0 {
		level = slog.LevelDebug
	}
	logger := slog.New(slogmulti.Fanout(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
		slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}),
	))
	return logger, f, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "addr", addr, "err", err)
		}
	}()
	return srv
}

// open starts a computation whose Hamiltonian is read from the run file.
func (a *app) open() (*ftdmrg.FTDMRG, error) {
	cfg, err := a.cfg.ftdmrgConfig()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	cfg.Logger = a.logger
	cfg.Registerer = a.reg
	cfg.RunID = a.runID
	f, err := ftdmrg.New(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := f.InitHamiltonianFCIDUMP(a.cfg.PointGroup, a.cfg.FCIDUMP); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "")
	}
	return f, nil
}

func (a *app) fcidumpCmd() *cobra.Command {
	var n, nElec int
	var t, u float64
	var out string
	cmd := &cobra.Command{
		Use:   "fcidump",
		Short: "Write the integrals of an open Hubbard chain",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if nElec == 0 {
				nElec = n
			}
			arena := pool.New(1 << 30)
			defer func() {
				if err1 := arena.Close(); err1 != nil && err == nil {
					err = errors.Wrap(err1, "")
				}
			}()
			f, err := fcidump.Hubbard(arena, n, nElec, t, u)
			if err != nil {
				return errors.Wrap(err, "")
			}
			defer f.Release()

			w := cmd.OutOrStdout()
			if out != "" {
				file, err := os.Create(out)
				if err != nil {
					return errors.Wrap(err, "")
				}
				defer func() {
					if err1 := file.Close(); err1 != nil && err == nil {
						err = errors.Wrap(err1, "")
					}
				}()
				w = file
			}
			if err := fcidump.Write(w, f); err != nil {
				return errors.Wrap(err, "")
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 4, "number of sites")
	cmd.Flags().IntVar(&nElec, "nelec", 0, "number of electrons, n if zero")
	cmd.Flags().Float64VarP(&t, "t", "t", 1, "hopping")
	cmd.Flags().Float64VarP(&u, "u", "u", 4, "on-site repulsion")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file, stdout if empty")
	return cmd
}

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Store the infinite temperature state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return errors.Wrap(err, "")
			}
			f, err := a.open()
			if err != nil {
				return errors.Wrap(err, "")
			}
			if err := f.GenerateInitialMPS(cmd.Context()); err != nil {
				f.Close()
				return errors.Wrap(err, "")
			}
			return errors.WithStack(f.Close())
		},
	}
}

func (a *app) evolveCmd() *cobra.Command {
	var nSteps, nSubSweeps int
	var cont bool
	cmd := &cobra.Command{
		Use:   "evolve",
		Short: "Evolve the stored state in imaginary time",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return errors.Wrap(err, "")
			}
			if !cmd.Flags().Changed("n-steps") {
				nSteps = a.cfg.nSteps()
			}
			if !cmd.Flags().Changed("n-sub-sweeps") {
				nSubSweeps = a.cfg.NSubSweeps
			}
			f, err := a.open()
			if err != nil {
				return errors.Wrap(err, "")
			}
			res, err := a.evolve(cmd.Context(), f, nSteps, nSubSweeps, cont)
			if err != nil {
				f.Close()
				return errors.Wrap(err, "")
			}
			a.summary(cmd.OutOrStdout(), res, nil)
			return errors.WithStack(f.Close())
		},
	}
	cmd.Flags().IntVar(&nSteps, "n-steps", 0, "number of macro-steps, beta/beta_step of the run file by default")
	cmd.Flags().IntVar(&nSubSweeps, "n-sub-sweeps", 0, "sweeps per macro-step, n_sub_sweeps of the run file by default")
	cmd.Flags().BoolVar(&cont, "cont", false, "continue from the last stored state")
	return cmd
}

func (a *app) evolve(ctx context.Context, f *ftdmrg.FTDMRG, nSteps, nSubSweeps int, cont bool) (mps.EvolveResult, error) {
	method, err := mps.ParseMethod(a.cfg.Method)
	if err != nil {
		return mps.EvolveResult{}, errors.Wrap(err, "")
	}
	res, err := f.ImaginaryTimeEvolution(ctx, nSteps, a.cfg.BetaStep, a.cfg.Mu, a.cfg.BondDims, method, nSubSweeps, cont)
	if err != nil {
		return res, errors.Wrap(err, "")
	}
	return res, nil
}

func (a *app) rdmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rdm",
		Short: "Write the one-particle density matrix of the evolved state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return errors.Wrap(err, "")
			}
			f, err := a.open()
			if err != nil {
				return errors.Wrap(err, "")
			}
			dm, err := a.rdm(cmd.Context(), f)
			if err != nil {
				f.Close()
				return errors.Wrap(err, "")
			}
			a.summary(cmd.OutOrStdout(), mps.EvolveResult{}, &dm)
			return errors.WithStack(f.Close())
		},
	}
}

// onePDM is the output file.
type onePDM struct {
	RunID string      `json:"run_id"`
	Alpha [][]float64 `json:"alpha"`
	Beta  [][]float64 `json:"beta"`
}

func (a *app) rdm(ctx context.Context, f *ftdmrg.FTDMRG) ([2]*mat.Dense, error) {
	dm, err := f.GetOnePDM(ctx, a.cfg.Reorder)
	if err != nil {
		return dm, errors.Wrap(err, "")
	}
	if err := a.writeOnePDM(dm); err != nil {
		return dm, errors.Wrap(err, "")
	}
	return dm, nil
}

func (a *app) writeOnePDM(dm [2]*mat.Dense) error {
	out := onePDM{RunID: a.runID, Alpha: rows(dm[0]), Beta: rows(dm[1])}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := os.WriteFile(a.cfg.Output, b, 0644); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func (a *app) exactCmd() *cobra.Command {
	var cooDir, fromCOO string
	cmd := &cobra.Command{
		Use:   "exact",
		Short: "Write the density matrix of the run by exact diagonalization",
		Long: `exact diagonalizes H - mu N in the full Fock space of a few orbitals and
writes the thermal one-particle density matrix at the temperature the run
file evolves to, in the format of rdm. The matrix may be written to, or read
from, a directory holding shape.csv and coo.csv with one value,row,col line
per nonzero element.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return errors.Wrap(err, "")
			}
			f, err := a.open()
			if err != nil {
				return errors.Wrap(err, "")
			}
			dm, err := a.exact(f, cooDir, fromCOO)
			if err != nil {
				f.Close()
				return errors.Wrap(err, "")
			}
			a.summary(cmd.OutOrStdout(), mps.EvolveResult{}, &dm)
			return errors.WithStack(f.Close())
		},
	}
	cmd.Flags().StringVar(&cooDir, "coo", "", "write the matrix of H - mu N to this directory")
	cmd.Flags().StringVar(&fromCOO, "from-coo", "", "read the matrix of H - mu N from this directory instead of the integrals")
	return cmd
}

func (a *app) exact(f *ftdmrg.FTDMRG, cooDir, fromCOO string) ([2]*mat.Dense, error) {
	var h *exactdiag.COO
	var err error
	if fromCOO != "" {
		h, err = exactdiag.ReadCOO(fromCOO)
	} else {
		h, err = f.ExactHamiltonian(a.cfg.Mu)
	}
	if err != nil {
		return [2]*mat.Dense{}, errors.Wrap(err, "")
	}
	if cooDir != "" {
		if err := os.MkdirAll(cooDir, 0755); err != nil {
			return [2]*mat.Dense{}, errors.Wrap(err, "")
		}
		if err := h.WriteCOO(cooDir); err != nil {
			return [2]*mat.Dense{}, errors.Wrap(err, "")
		}
	}

	beta := 2 * float64(a.cfg.nSteps()) * a.cfg.BetaStep
	dm, err := f.ExactOnePDM(h, beta, a.cfg.Reorder)
	if err != nil {
		return dm, errors.Wrap(err, "")
	}
	if err := a.writeOnePDM(dm); err != nil {
		return dm, errors.Wrap(err, "")
	}
	return dm, nil
}

func rows(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	out := make([][]float64, 0, r)
	for i := range r {
		out = append(out, mat.Row(nil, i, m))
	}
	return out
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Initialize, evolve by beta and write the density matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return errors.Wrap(err, "")
			}
			f, err := a.open()
			if err != nil {
				return errors.Wrap(err, "")
			}
			res, dm, err := a.run(cmd.Context(), f)
			if err != nil {
				f.Close()
				return errors.Wrap(err, "")
			}
			a.summary(cmd.OutOrStdout(), res, &dm)
			return errors.WithStack(f.Close())
		},
	}
}

// run takes the first step with more sweeps, since the bond dimensions of
// the infinite temperature state are far from converged.
func (a *app) run(ctx context.Context, f *ftdmrg.FTDMRG) (mps.EvolveResult, [2]*mat.Dense, error) {
	var dm [2]*mat.Dense
	if err := f.GenerateInitialMPS(ctx); err != nil {
		return mps.EvolveResult{}, dm, errors.Wrap(err, "")
	}
	nSteps := a.cfg.nSteps()
	res, err := a.evolve(ctx, f, min(nSteps, 1), a.cfg.FirstSubSweeps, false)
	if err != nil {
		return res, dm, errors.Wrap(err, "")
	}
	if nSteps > 1 {
		rest, err := a.evolve(ctx, f, nSteps-1, a.cfg.NSubSweeps, true)
		if err != nil {
			return res, dm, errors.Wrap(err, "")
		}
		res = merge(res, rest)
	}

	dm, err = a.rdm(ctx, f)
	if err != nil {
		return res, dm, errors.Wrap(err, "")
	}
	return res, dm, nil
}

func merge(a, b mps.EvolveResult) mps.EvolveResult {
	a.Steps += b.Steps
	a.Tau = b.Tau
	a.Energy, a.Particles = b.Energy, b.Particles
	a.DiscardedWeight += b.DiscardedWeight
	a.TruncationError += b.TruncationError
	a.MaxBondDim = max(a.MaxBondDim, b.MaxBondDim)
	a.LogNorm += b.LogNorm
	a.History = append(a.History, b.History...)
	return a
}

func (a *app) summary(w io.Writer, res mps.EvolveResult, dm *[2]*mat.Dense) {
	header := color.New(color.FgCyan, color.Bold)
	key := color.New(color.FgGreen)
	header.Fprintf(w, "ftdmrg %s\n", a.runID)
	if res.Steps > 0 {
		key.Fprint(w, "  steps      ")
		fmt.Fprintf(w, "%d\n", res.Steps)
		key.Fprint(w, "  beta       ")
		fmt.Fprintf(w, "%g\n", 2*res.Tau)
		key.Fprint(w, "  energy     ")
		fmt.Fprintf(w, "%.10f\n", res.Energy)
		key.Fprint(w, "  particles  ")
		fmt.Fprintf(w, "%.10f\n", res.Particles)
		key.Fprint(w, "  bond dim   ")
		fmt.Fprintf(w, "%d\n", res.MaxBondDim)
		key.Fprint(w, "  discarded  ")
		fmt.Fprintf(w, "%.3e\n", res.DiscardedWeight)
	}
	if dm != nil {
		key.Fprint(w, "  trace      ")
		fmt.Fprintf(w, "%.10f\n", mat.Trace(dm[0])+mat.Trace(dm[1]))
		key.Fprint(w, "  output     ")
		fmt.Fprintf(w, "%s\n", a.cfg.Output)
	}
}
