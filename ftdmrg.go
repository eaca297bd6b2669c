// Package ftdmrg computes the finite-temperature one-particle density matrix
// of a molecular Hamiltonian with the ancilla (purification) formulation of
// the density matrix renormalization group.
//
// A computation runs in strictly ordered phases:
//
//	f, _ := ftdmrg.New(cfg)
//	f.InitHamiltonianFCIDUMP("c1", "FCIDUMP")
//	f.GenerateInitialMPS(ctx)
//	f.ImaginaryTimeEvolution(ctx, nSteps, betaStep, mu, bondDims, mps.RK4, 2, false)
//	dm, _ := f.GetOnePDM(ctx, nil)
//	f.Close()
//
// The states between phases are kept in the scratch directory, so evolution
// may be continued and the density matrix extracted by a later process.
//
// Evolving the ket by tau yields the thermal state at inverse temperature
// 2*tau. See Feiguin and White, Finite-temperature density matrix
// renormalization using an enlarged Hilbert space, PRB 72, 220401 (2005).
package ftdmrg

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ftdmrg/errs"
	"github.com/fumin/ftdmrg/exactdiag"
	"github.com/fumin/ftdmrg/fcidump"
	"github.com/fumin/ftdmrg/hamiltonian"
	"github.com/fumin/ftdmrg/mps"
	"github.com/fumin/ftdmrg/pool"
	"github.com/fumin/ftdmrg/store"
	"github.com/fumin/ftdmrg/symm"
)

// Config configures a computation.
type Config struct {
	// Scratch is the directory holding the persisted states.
	Scratch string
	// Memory is the arena budget in bytes.
	Memory  int64
	Threads int
	// Representation selects spin-adapted or spin-explicit integrals.
	Representation symm.Representation
	// Cutoff is the singular value cutoff of bond truncations.
	Cutoff float64

	Logger     *slog.Logger
	Registerer prometheus.Registerer
	RunID      string
}

// NewConfig returns the default configuration.
func NewConfig() Config {
	return Config{
		Scratch:        "./nodex",
		Memory:         1e9,
		Threads:        2,
		Representation: symm.SU2{},
		Cutoff:         1e-10,
	}
}

type FTDMRG struct {
	cfg     Config
	logger  *slog.Logger
	arena   *pool.Arena
	store   *store.Store
	metrics *mps.Metrics

	fcidump *fcidump.FCIDUMP
	hamil   *hamiltonian.Hamiltonian
	bondDim int
}

// New prepares the scratch directory and the memory arena.
func New(cfg Config) (*FTDMRG, error) {
	if cfg.Memory <= 0 {
		return nil, errs.Configf("memory %d", cfg.Memory)
	}
	if cfg.Threads <= 0 {
		return nil, errs.Configf("threads %d", cfg.Threads)
	}
	if cfg.Representation == nil {
		cfg.Representation = symm.SU2{}
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	scratch, err := filepath.Abs(cfg.Scratch)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	cfg.Scratch = scratch

	f := &FTDMRG{cfg: cfg}
	f.logger = cfg.Logger.With("run_id", cfg.RunID)
	f.store, err = store.Open(cfg.Scratch)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	f.arena = pool.New(cfg.Memory)
	if cfg.Registerer != nil {
		f.metrics = mps.NewMetrics(cfg.Registerer)
	}
	f.logger.Info("new", "scratch", cfg.Scratch, "memory", cfg.Memory, "threads", cfg.Threads, "representation", cfg.Representation)
	return f, nil
}

// InitHamiltonianFCIDUMP builds the Hamiltonian from the integrals in filename.
func (f *FTDMRG) InitHamiltonianFCIDUMP(pg, filename string) error {
	if f.fcidump != nil {
		return errs.Configf("hamiltonian already initialized")
	}
	fd, err := fcidump.Read(f.arena, filename)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := f.initHamiltonian(pg, fd); err != nil {
		fd.Release()
		return errors.Wrap(err, "")
	}
	return nil
}

// InitHamiltonian builds the Hamiltonian from spin-restricted integrals. h1e
// is a symmetric n by n matrix, and g2e the 8-fold packed two-electron
// integrals in chemist's notation.
func (f *FTDMRG) InitHamiltonian(pg string, n, twoS, iSym int, orbSym []int, eCore float64, h1e mat.Matrix, g2e []float64, tol float64) error {
	if f.fcidump != nil {
		return errs.Configf("hamiltonian already initialized")
	}
	fd, err := fcidump.InitializeSU2(f.arena, n, 2*n, twoS, iSym, orbSym, eCore, h1e, g2e, tol)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := f.initHamiltonian(pg, fd); err != nil {
		fd.Release()
		return errors.Wrap(err, "")
	}
	return nil
}

// InitHamiltonianSZ builds the Hamiltonian from spin-unrestricted integrals:
// h1e holds the alpha and beta one-electron matrices, g2e the aa and bb 8-fold
// and the ab 4-fold packed two-electron integrals.
func (f *FTDMRG) InitHamiltonianSZ(pg string, n, twoS, iSym int, orbSym []int, eCore float64, h1e [2]mat.Matrix, g2e [3][]float64, tol float64) error {
	if f.fcidump != nil {
		return errs.Configf("hamiltonian already initialized")
	}
	if _, ok := f.cfg.Representation.(symm.SZ); !ok {
		return errs.Configf("unrestricted integrals need the sz representation, got %s", f.cfg.Representation)
	}
	fd, err := fcidump.InitializeSZ(f.arena, n, 2*n, twoS, iSym, orbSym, eCore, h1e, g2e, tol)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := f.initHamiltonian(pg, fd); err != nil {
		fd.Release()
		return errors.Wrap(err, "")
	}
	return nil
}

func (f *FTDMRG) initHamiltonian(pg string, fd *fcidump.FCIDUMP) error {
	if _, ok := f.cfg.Representation.(symm.SU2); ok && fd.Unrestricted() {
		return errs.Configf("unrestricted integrals need the sz representation")
	}
	n := fd.NSites()
	// Every physical orbital is paired with an ancilla that completes it to
	// two electrons, so the purified state is a singlet of 2n electrons.
	target := symm.QN{N: 2 * n}
	h, err := hamiltonian.Build(pg, symm.Vacuum, target, n, fd.OrbSym(), fd)
	if err != nil {
		return errors.Wrap(err, "")
	}
	f.fcidump, f.hamil = fd, h
	f.logger.Info("hamiltonian", "point_group", pg, "n_sites", n, "two_s", fd.TwoS(), "isym", fd.ISym(), "e_core", fd.ECore(), "unrestricted", fd.Unrestricted())
	return nil
}

// GenerateInitialMPS persists the infinite temperature state under tag INIT.
func (f *FTDMRG) GenerateInitialMPS(ctx context.Context) error {
	if f.hamil == nil {
		return errs.Configf("hamiltonian not initialized")
	}
	start := time.Now()
	m, err := mps.InitializeThermal(f.arena, f.hamil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer m.Release()
	if err := f.store.Save(ctx, m, f.cfg.RunID, true); err != nil {
		return errors.Wrap(err, "")
	}
	f.logger.Info("initial mps", "bond_dims", m.BondDims(), "duration", time.Since(start))
	return nil
}

// ImaginaryTimeEvolution evolves the ket by nSteps*betaStep in imaginary time
// under H - mu*N, persisting the state under tag FINAL after every step. It
// starts from INIT, or from FINAL if cont is set.
func (f *FTDMRG) ImaginaryTimeEvolution(ctx context.Context, nSteps int, betaStep, mu float64, bondDims []int, method mps.Method, nSubSweeps int, cont bool) (mps.EvolveResult, error) {
	if f.hamil == nil {
		return mps.EvolveResult{}, errs.Configf("hamiltonian not initialized")
	}
	start := time.Now()
	tag := mps.TagInit
	if cont {
		tag = mps.TagFinal
	}
	m, info, err := f.store.Load(ctx, f.arena, tag)
	if errors.Is(err, store.ErrNotFound) {
		return mps.EvolveResult{}, errs.Configf("no %s state in %s", tag, f.cfg.Scratch)
	}
	if err != nil {
		return mps.EvolveResult{}, errors.Wrap(err, "")
	}
	defer m.Release()
	f.logger.Info("load", "tag", tag, "run_id", info.RunID, "tau", info.Tau, "steps", info.Steps, "complete", info.Complete)

	if !cont {
		m.SetTag(mps.TagFinal)
		if err := f.store.Save(ctx, m, f.cfg.RunID, nSteps == 0); err != nil {
			return mps.EvolveResult{}, errors.Wrap(err, "")
		}
	}

	last := m.Steps() + nSteps
	// A step that completed is persisted even if ctx is canceled meanwhile.
	saveCtx := context.WithoutCancel(ctx)
	opt := mps.NewEvolveOptions().NSteps(nSteps).BetaStep(betaStep).Mu(mu).BondDims(bondDims).Method(method).NSubSweeps(nSubSweeps)
	opt = opt.Cutoff(f.cfg.Cutoff).Threads(f.cfg.Threads).Logger(f.logger).Metrics(f.metrics)
	opt = opt.AfterStep(func(sr mps.StepResult, m *mps.MPS) error {
		if err := f.store.Save(saveCtx, m, f.cfg.RunID, sr.Step == last); err != nil {
			return errors.Wrap(err, "")
		}
		return nil
	})
	res, err := mps.Evolve(ctx, m, f.hamil, opt)
	if err != nil {
		return res, errors.Wrap(err, "")
	}

	if len(bondDims) > 0 {
		f.bondDim = bondDims[len(bondDims)-1]
	}
	f.logger.Info("imaginary time evolution", "steps", res.Steps, "tau", res.Tau, "energy", res.Energy, "particles", res.Particles, "discarded", res.DiscardedWeight, "duration", time.Since(start))
	return res, nil
}

// GetOnePDM returns the alpha and beta one-particle density matrices of the
// FINAL state, permuted by reorder if it is not nil.
func (f *FTDMRG) GetOnePDM(ctx context.Context, reorder []int) ([2]*mat.Dense, error) {
	if f.hamil == nil {
		return [2]*mat.Dense{}, errs.Configf("hamiltonian not initialized")
	}
	start := time.Now()
	f.hamil.SetMu(0)

	// Every state loaded here is freed with the scope.
	scope := f.arena.Scope()
	defer scope.Release()
	final, info, err := f.store.Load(ctx, scope, mps.TagFinal)
	if errors.Is(err, store.ErrNotFound) {
		return [2]*mat.Dense{}, errs.Configf("no %s state in %s", mps.TagFinal, f.cfg.Scratch)
	}
	if err != nil {
		return [2]*mat.Dense{}, errors.Wrap(err, "")
	}
	if !info.Complete {
		f.logger.Warn("incomplete evolution", "tau", info.Tau, "steps", info.Steps)
	}

	initial, _, err := f.store.Load(ctx, scope, mps.TagInit)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		f.logger.Warn("load", "tag", mps.TagInit, "err", err)
	default:
		f.logger.Info("overlap", "init_final", real(mps.Overlap(initial, final)))
	}

	dm, err := mps.OnePDM(ctx, final, f.hamil.NSites(), f.cfg.Representation, reorder, f.cfg.Threads)
	if err != nil {
		return [2]*mat.Dense{}, errors.Wrap(err, "")
	}
	f.logger.Info("one pdm", "tau", info.Tau, "beta", 2*info.Tau, "bond_dim", f.bondDim, "max_bond_dim", final.MaxBondDim(), "trace", mat.Trace(dm[0])+mat.Trace(dm[1]), "duration", time.Since(start))
	return dm, nil
}

// MaxExactSites bounds the orbitals of an exact diagonalization, whose
// Fock space has dimension 4^n.
const MaxExactSites = 6

// ExactHamiltonian returns the Fock space matrix of H - mu*N.
func (f *FTDMRG) ExactHamiltonian(mu float64) (*exactdiag.COO, error) {
	if f.hamil == nil {
		return nil, errs.Configf("hamiltonian not initialized")
	}
	if n := f.hamil.NSites(); n > MaxExactSites {
		return nil, errs.Configf("%d orbitals, exact diagonalization supports %d", n, MaxExactSites)
	}
	defer f.hamil.SetMu(0)
	f.hamil.SetMu(mu)
	return exactdiag.Hamiltonian(f.hamil.Terms(), f.hamil.NSites()), nil
}

// ExactOnePDM returns the alpha and beta one-particle density matrices of
// exp(-beta*h)/Z by exact diagonalization of the Fock space matrix h,
// permuted by reorder if it is not nil. Like GetOnePDM, the spin-adapted
// representation averages the two channels. It is the reference of GetOnePDM
// for small systems.
func (f *FTDMRG) ExactOnePDM(h *exactdiag.COO, beta float64, reorder []int) ([2]*mat.Dense, error) {
	n := f.NSites()
	if n == 0 {
		return [2]*mat.Dense{}, errs.Configf("hamiltonian not initialized")
	}
	if dim := 1 << (2 * n); h.Rows() != dim || h.Cols() != dim {
		return [2]*mat.Dense{}, errs.Configf("matrix of %dx%d for %d orbitals", h.Rows(), h.Cols(), n)
	}
	if reorder != nil {
		if err := mps.CheckPermutation(reorder, n); err != nil {
			return [2]*mat.Dense{}, errors.Wrap(err, "")
		}
	}
	start := time.Now()
	th, err := exactdiag.NewThermal(h, beta)
	if err != nil {
		return [2]*mat.Dense{}, errors.Wrap(err, "")
	}
	dm := th.OnePDM(n)
	if _, ok := f.cfg.Representation.(symm.SU2); ok {
		var avg mat.Dense
		avg.Add(dm[0], dm[1])
		avg.Scale(0.5, &avg)
		dm = [2]*mat.Dense{&avg, mat.DenseCopyOf(&avg)}
	}
	if reorder != nil {
		for s := range dm {
			dm[s] = mps.Permute(dm[s], reorder)
		}
	}
	f.logger.Info("exact one pdm", "beta", beta, "log_z", th.LogZ, "trace", mat.Trace(dm[0])+mat.Trace(dm[1]), "duration", time.Since(start))
	return dm, nil
}

// NSites returns the number of physical orbitals.
func (f *FTDMRG) NSites() int {
	if f.hamil == nil {
		return 0
	}
	return f.hamil.NSites()
}

// Close releases the integrals, the store and the arena. Handles that were
// never released are reported as a *pool.LifecycleError.
func (f *FTDMRG) Close() error {
	var err error
	if f.fcidump != nil {
		f.fcidump.Release()
		f.fcidump, f.hamil = nil, nil
	}
	if err1 := f.store.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	if err1 := f.arena.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	return err
}
