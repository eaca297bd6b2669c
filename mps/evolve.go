package mps

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ftdmrg/errs"
	"github.com/fumin/ftdmrg/hamiltonian"
	"github.com/fumin/ftdmrg/mpo"
	"github.com/fumin/ftdmrg/symm"
	"github.com/fumin/ftdmrg/tensor"
	"github.com/fumin/ftdmrg/util"
)

const (
	// maxStepNorm bounds h*||H_eff - e0|| of a single Runge-Kutta sub-step.
	maxStepNorm = 0.1
	// radiusSafety inflates the power iteration estimate, which is a lower bound.
	radiusSafety   = 1.25
	powerIters     = 16
	residualTol    = 1e-13
	progressPeriod = 10 * time.Second
)

// Method is the integrator of the local imaginary-time equations.
type Method int

const (
	RK4 Method = iota
	RK2
)

func (m Method) String() string {
	switch m {
	case RK4:
		return "rk4"
	case RK2:
		return "rk2"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod parses the name of an integrator.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "", "rk4":
		return RK4, nil
	case "rk2":
		return RK2, nil
	}
	return 0, errs.Configf("unknown method %q", s)
}

// EvolveOptions are options of the imaginary-time evolution.
type EvolveOptions struct {
	nSteps     int
	betaStep   float64
	mu         float64
	bondDims   []int
	method     Method
	nSubSweeps int
	cutoff     float64
	expansion  float64
	threads    int
	logger     *slog.Logger
	metrics    *Metrics
	afterStep  func(StepResult, *MPS) error
}

// NewEvolveOptions returns the default evolution options.
func NewEvolveOptions() EvolveOptions {
	opt := EvolveOptions{}
	opt.nSteps = 1
	opt.betaStep = 0.05
	opt.bondDims = []int{500}
	opt.method = RK4
	opt.nSubSweeps = 2
	opt.cutoff = 1e-10
	opt.expansion = 1
	opt.threads = 1
	opt.logger = slog.New(slog.DiscardHandler)
	return opt
}

// NSteps sets the number of macro-steps.
func (opt EvolveOptions) NSteps(n int) EvolveOptions {
	opt.nSteps = n
	return opt
}

// BetaStep sets the imaginary time of one macro-step.
func (opt EvolveOptions) BetaStep(b float64) EvolveOptions {
	opt.betaStep = b
	return opt
}

// Mu sets the chemical potential.
func (opt EvolveOptions) Mu(mu float64) EvolveOptions {
	opt.mu = mu
	return opt
}

// BondDims sets the bond dimension schedule. Macro-step k, counted over the
// lifetime of the state, uses dims[min(k-1, len(dims)-1)].
func (opt EvolveOptions) BondDims(dims []int) EvolveOptions {
	opt.bondDims = dims
	return opt
}

func (opt EvolveOptions) Method(m Method) EvolveOptions {
	opt.method = m
	return opt
}

// NSubSweeps sets the number of symmetric sweeps per macro-step.
func (opt EvolveOptions) NSubSweeps(n int) EvolveOptions {
	opt.nSubSweeps = n
	return opt
}

// Cutoff sets the relative singular value cutoff of bond truncations.
func (opt EvolveOptions) Cutoff(c float64) EvolveOptions {
	opt.cutoff = c
	return opt
}

// Expansion sets the number of states that may be added to a bond before
// each truncation, relative to the states it keeps. Expansion lets the state
// reach couplings beyond its current bonds. With cutoff 0 the bonds are
// instead completed up to the bond dimension.
func (opt EvolveOptions) Expansion(r float64) EvolveOptions {
	opt.expansion = r
	return opt
}

// Threads sets the parallelism of the operator construction and of the
// sector decompositions.
func (opt EvolveOptions) Threads(n int) EvolveOptions {
	opt.threads = n
	return opt
}

func (opt EvolveOptions) Logger(l *slog.Logger) EvolveOptions {
	opt.logger = l
	return opt
}

func (opt EvolveOptions) Metrics(m *Metrics) EvolveOptions {
	opt.metrics = m
	return opt
}

// AfterStep sets a callback run after every macro-step, for example to
// persist the state. An error stops the evolution.
func (opt EvolveOptions) AfterStep(f func(StepResult, *MPS) error) EvolveOptions {
	opt.afterStep = f
	return opt
}

func (opt EvolveOptions) validate() error {
	switch {
	case opt.nSteps < 0:
		return errs.Configf("n_steps %d", opt.nSteps)
	case opt.nSteps > 0 && !(opt.betaStep > 0):
		return errs.Configf("beta_step %g", opt.betaStep)
	case len(opt.bondDims) == 0:
		return errs.Configf("empty bond dimension schedule")
	case opt.nSubSweeps < 1:
		return errs.Configf("n_sub_sweeps %d", opt.nSubSweeps)
	case opt.cutoff < 0:
		return errs.Configf("cutoff %g", opt.cutoff)
	case opt.expansion < 0:
		return errs.Configf("expansion %g", opt.expansion)
	case opt.method != RK4 && opt.method != RK2:
		return errs.Configf("method %v", opt.method)
	}
	for i, d := range opt.bondDims {
		if d < 1 {
			return errs.Configf("bond dimension %d at %d", d, i)
		}
	}
	return nil
}

// StepResult reports one macro-step.
type StepResult struct {
	Step       int
	Tau        float64
	BondDim    int
	Energy     float64
	Particles  float64
	MaxBondDim int
	Duration   time.Duration

	// DiscardedWeight sums the discarded weights of all truncations of the step.
	DiscardedWeight float64
	// TruncationError sums the square roots of the discarded weights, which
	// bounds the norm of the accumulated truncation error.
	TruncationError float64

	// LogNorm is the logarithm of the norm removed by renormalizing the
	// state, accumulated over the step.
	LogNorm float64
}

// EvolveResult reports an evolution.
type EvolveResult struct {
	Steps           int
	Tau             float64
	Energy          float64
	Particles       float64
	DiscardedWeight float64
	TruncationError float64
	MaxBondDim      int
	LogNorm         float64
	History         []StepResult
}

// Evolve applies exp(-beta_step*(H - mu*N)) to state NSteps times, in place,
// with symmetric two-site sweeps of the time-dependent variational principle.
// The physical density matrix of the result corresponds to beta = 2*state.Tau().
// On return the state is right-canonical around site 0.
func Evolve(ctx context.Context, state *MPS, h *hamiltonian.Hamiltonian, options ...EvolveOptions) (EvolveResult, error) {
	opt := NewEvolveOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	if err := opt.validate(); err != nil {
		return EvolveResult{}, errors.Wrap(err, "")
	}
	if state.Len() != 2*h.NSites() {
		return EvolveResult{}, errs.Configf("state of %d sites for %d orbitals", state.Len(), h.NSites())
	}

	h.SetMu(opt.mu)
	mpoOpt := mpo.NewOptions()
	mpoOpt.Threads = opt.threads
	wPhys, err := mpo.FromTerms(ctx, h.Terms(), h.NSites(), mpoOpt)
	if err != nil {
		return EvolveResult{}, errors.Wrap(err, "")
	}
	nPhys, err := mpo.FromTerms(ctx, h.NumberTerms(), h.NSites(), mpoOpt)
	if err != nil {
		return EvolveResult{}, errors.Wrap(err, "")
	}
	e := &evolver{
		opt:       opt,
		m:         state,
		w:         mpo.WithAncilla(wPhys),
		number:    mpo.WithAncilla(nPhys),
		throttler: util.NewSkipThrottler(progressPeriod),
	}
	opt.logger.Info("mpo", "bond_dims", e.w.BondDims(), "mu", opt.mu)

	if state.Center() != 0 {
		if err := state.Canonicalize(0); err != nil {
			return EvolveResult{}, errors.Wrap(err, "")
		}
	}
	state.SetThreads(opt.threads)
	e.env = newEnvironment(state.Len())
	e.env.buildRight(state, e.w)
	e.fill, e.reach = stateCounts(state)
	if k := state.Steps(); k > 0 {
		e.prevD = opt.bondDims[min(k-1, len(opt.bondDims)-1)]
	}

	var res EvolveResult
	for k := range opt.nSteps {
		if err := ctx.Err(); err != nil {
			return res, errors.Wrap(err, fmt.Sprintf("%d", k))
		}
		sr, err := e.step()
		if err != nil {
			return res, errors.Wrap(err, fmt.Sprintf("%d", k))
		}
		res.Steps++
		res.Tau = state.Tau()
		res.Energy, res.Particles = sr.Energy, sr.Particles
		res.DiscardedWeight += sr.DiscardedWeight
		res.TruncationError += sr.TruncationError
		res.MaxBondDim = max(res.MaxBondDim, sr.MaxBondDim)
		res.LogNorm += sr.LogNorm
		res.History = append(res.History, sr)

		opt.logger.Info("step", "step", sr.Step, "tau", sr.Tau, "bond_dim", sr.BondDim, "energy", sr.Energy, "particles", sr.Particles, "discarded", sr.DiscardedWeight, "max_bond_dim", sr.MaxBondDim, "duration", sr.Duration)
		if m := opt.metrics; m != nil {
			m.Steps.Inc()
			m.Discarded.Add(sr.DiscardedWeight)
			m.BondDim.Set(float64(sr.MaxBondDim))
			m.Energy.Set(sr.Energy)
			m.Tau.Set(sr.Tau)
			m.StepDuration.Observe(sr.Duration.Seconds())
		}
		if opt.afterStep != nil {
			if err := opt.afterStep(sr, state); err != nil {
				return res, errors.Wrap(err, fmt.Sprintf("%d", k))
			}
		}
	}
	return res, nil
}

type evolver struct {
	opt    EvolveOptions
	m      *MPS
	w      mpo.MPO
	number mpo.MPO
	env    *Environment

	// fill and reach are the state counts of stateCounts.
	fill, reach []map[symm.QN]int

	maxD       int
	prevD      int
	logNorm    float64
	discarded  float64
	truncation float64
	maxBond    int
	throttler  *util.SkipThrottler
}

func (e *evolver) step() (StepResult, error) {
	start := time.Now()
	stepIdx := e.m.Steps() + 1
	e.maxD = e.opt.bondDims[min(stepIdx-1, len(e.opt.bondDims)-1)]
	e.logNorm, e.discarded, e.truncation, e.maxBond = 0, 0, 0, 0

	h := e.opt.betaStep / float64(e.opt.nSubSweeps) / 2
	// Weights discarded while preparing the bonds belong to this step.
	if stepIdx == 1 || e.maxD > e.prevD {
		if err := e.prepare(h); err != nil {
			return StepResult{}, errors.Wrap(err, "prepare")
		}
	}
	e.prevD = e.maxD
	for i := range e.opt.nSubSweeps {
		if err := e.sweepRight(h, true); err != nil {
			return StepResult{}, errors.Wrap(err, fmt.Sprintf("right %d", i))
		}
		if err := e.sweepLeft(h, true); err != nil {
			return StepResult{}, errors.Wrap(err, fmt.Sprintf("left %d", i))
		}
	}
	e.m.SetProgress(e.m.Tau()+e.opt.betaStep, stepIdx)

	// The state is normalized, so <H - mu N> is read off the center.
	c := e.m.Site(0)
	hc := applyOneSite(e.env.L[0], e.w[0], e.env.R[1], c)
	shifted := tensor.Dot(c, hc) / tensor.Dot(c, c)
	particles := Expectation(e.m, e.number)
	if !isFinite(shifted) || !isFinite(particles) {
		return StepResult{}, errors.Errorf("energy %f particles %f", shifted, particles)
	}

	sr := StepResult{
		Step:            stepIdx,
		Tau:             e.m.Tau(),
		BondDim:         e.maxD,
		Energy:          shifted + e.opt.mu*particles,
		Particles:       particles,
		DiscardedWeight: e.discarded,
		TruncationError: e.truncation,
		MaxBondDim:      e.maxBond,
		LogNorm:         e.logNorm,
		Duration:        time.Since(start),
	}
	return sr, nil
}

func (e *evolver) truncateOptions() tensor.TruncateOptions {
	return tensor.TruncateOptions{MaxD: e.maxD, Cutoff: e.opt.cutoff, Threads: e.opt.threads}
}

// exact reports whether bonds are completed instead of truncated, which
// makes the projected evolution exact up to the bond dimension.
func (e *evolver) exact() bool { return e.opt.cutoff == 0 }

// prepare enlarges the bonds with sweeps that do not evolve the state, until
// their dimensions stop changing.
func (e *evolver) prepare(h float64) error {
	for round := range e.m.Len() {
		before := e.m.BondDims()
		if err := e.sweepRight(h, false); err != nil {
			return errors.Wrap(err, fmt.Sprintf("right %d", round))
		}
		if err := e.sweepLeft(h, false); err != nil {
			return errors.Wrap(err, fmt.Sprintf("left %d", round))
		}
		if slices.Equal(before, e.m.BondDims()) {
			break
		}
	}
	return nil
}

// expandOptions bounds the states added to a bond that already holds k.
// limit caps every sector at the number of states the other side of the
// bond can pair with.
func (e *evolver) expandOptions(k int, sMax float64, limit map[symm.QN]int) tensor.ExpandOptions {
	opt := tensor.ExpandOptions{
		MaxAdd:  e.maxD - k,
		Limit:   func(q symm.QN) int { return limit[q] },
		Threads: e.opt.threads,
	}
	if e.exact() {
		opt.Pad = true
		return opt
	}
	opt.MaxAdd = min(opt.MaxAdd, int(math.Ceil(e.opt.expansion*float64(k))))
	opt.Tol = e.opt.cutoff * sMax
	return opt
}

// theta contracts sites i and i+1 into a tensor of shape {left, up1, up2, right},
// returning also the labels of its rows (left, up1) and columns (up2, right).
func (e *evolver) theta(i int) (*tensor.Dense, []symm.QN, []symm.QN) {
	t := tensor.Product(e.m.Site(i), e.m.Site(i+1), [][2]int{{mpsRightAxis, mpsLeftAxis}})
	rowQ := e.m.leftRowLabels(i)
	colQ := e.m.rightColLabels(i + 1)
	return t, rowQ, colQ
}

// sweepRight moves the center from the left to the right edge. With evolve
// unset the state is only refactorized and its bonds expanded.
func (e *evolver) sweepRight(h float64, evolve bool) error {
	m, env := e.m, e.env
	for i := range m.Len() - 1 {
		theta, rowQ, colQ := e.theta(i)
		s := theta.Shape()
		if evolve {
			apply := func(v *tensor.Dense) *tensor.Dense {
				return applyTwoSite(env.L[i], e.w[i], e.w[i+1], env.R[i+2], v)
			}
			var ln float64
			var err error
			if theta, ln, err = propagate(theta, apply, h, e.opt.method); err != nil {
				return errors.Wrap(err, fmt.Sprintf("%d", i))
			}
			e.logNorm += ln
		}

		svd := tensor.BlockSVD(theta.Matrix(s[0]*s[1]), rowQ, colQ, e.truncateOptions())
		if len(svd.Values) == 0 {
			return errors.Errorf("%d: no states kept", i)
		}
		e.record(i, svd)

		// The left basis is enlarged by the directions into which the
		// Hamiltonian scatters theta, and the new states carry no weight.
		src := rightSource(env.L[i], e.w[i], theta).Matrix(s[0] * s[1])
		src.Scale(math.Abs(h), src)
		left, labels := tensor.Expand(svd.Left, svd.Labels, src, rowQ, e.expandOptions(len(svd.Labels), slices.Max(svd.Values), e.reach[i+1]))
		k := len(labels)
		weights := mat.NewDense(k, s[2]*s[3], nil)
		weights.Slice(0, len(svd.Values), 0, s[2]*s[3]).(*mat.Dense).Copy(svd.ScaledRight())
		a := tensor.FromMatrix(left, s[0], s[1], k)
		c := tensor.FromMatrix(weights, k, s[2], s[3])
		e.logNorm += math.Log(c.Normalize())
		e.maxBond = max(e.maxBond, k)

		if err := m.SetSite(i, a); err != nil {
			return errors.Wrap(err, "")
		}
		m.labels[i+1] = labels
		m.center = i + 1
		env.L[i+1] = lExpression(env.L[i], e.w[i], a)

		// Backward step of the single site center, which is skipped at the edge.
		if evolve && i+1 < m.Len()-1 {
			back := func(v *tensor.Dense) *tensor.Dense {
				return applyOneSite(env.L[i+1], e.w[i+1], env.R[i+2], v)
			}
			var ln float64
			var err error
			if c, ln, err = propagate(c, back, -h, e.opt.method); err != nil {
				return errors.Wrap(err, fmt.Sprintf("%d", i))
			}
			e.logNorm += ln
			project(c, m.labels[i+1], m.labels[i+2], m.phys[i+1])
			e.logNorm += math.Log(c.Normalize())
		}
		if err := m.SetSite(i+1, c); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

func (e *evolver) sweepLeft(h float64, evolve bool) error {
	m, env := e.m, e.env
	for i := m.Len() - 2; i >= 0; i-- {
		theta, rowQ, colQ := e.theta(i)
		s := theta.Shape()
		if evolve {
			apply := func(v *tensor.Dense) *tensor.Dense {
				return applyTwoSite(env.L[i], e.w[i], e.w[i+1], env.R[i+2], v)
			}
			var ln float64
			var err error
			if theta, ln, err = propagate(theta, apply, h, e.opt.method); err != nil {
				return errors.Wrap(err, fmt.Sprintf("%d", i))
			}
			e.logNorm += ln
		}

		svd := tensor.BlockSVD(theta.Matrix(s[0]*s[1]), rowQ, colQ, e.truncateOptions())
		if len(svd.Values) == 0 {
			return errors.Errorf("%d: no states kept", i)
		}
		e.record(i, svd)

		src := leftSource(env.R[i+2], e.w[i+1], theta).Matrix(s[2] * s[3])
		src.Scale(math.Abs(h), src)
		right, labels := tensor.Expand(mat.DenseCopyOf(svd.Right.T()), svd.Labels, src, colQ, e.expandOptions(len(svd.Labels), slices.Max(svd.Values), e.fill[i+1]))
		k := len(labels)
		weights := mat.NewDense(s[0]*s[1], k, nil)
		weights.Slice(0, s[0]*s[1], 0, len(svd.Values)).(*mat.Dense).Copy(svd.ScaledLeft())
		b := tensor.FromMatrix(mat.DenseCopyOf(right.T()), k, s[2], s[3])
		c := tensor.FromMatrix(weights, s[0], s[1], k)
		e.logNorm += math.Log(c.Normalize())
		e.maxBond = max(e.maxBond, k)

		if err := m.SetSite(i+1, b); err != nil {
			return errors.Wrap(err, "")
		}
		m.labels[i+1] = labels
		m.center = i
		env.R[i+1] = rExpression(env.R[i+2], e.w[i+1], b)

		if evolve && i > 0 {
			back := func(v *tensor.Dense) *tensor.Dense {
				return applyOneSite(env.L[i], e.w[i], env.R[i+1], v)
			}
			var ln float64
			var err error
			if c, ln, err = propagate(c, back, -h, e.opt.method); err != nil {
				return errors.Wrap(err, fmt.Sprintf("%d", i))
			}
			e.logNorm += ln
			project(c, m.labels[i], m.labels[i+1], m.phys[i])
			e.logNorm += math.Log(c.Normalize())
		}
		if err := m.SetSite(i, c); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

// rightSource returns L W theta of shape {top, wUp, wRight, up2, right},
// the part of H theta that is left open at the bond right of site i.
func rightSource(l, w, theta *tensor.Dense) *tensor.Dense {
	x1 := tensor.Product(l, theta, [][2]int{{fBotAxis, 0}})
	x2 := tensor.Product(w, x1, [][2]int{{mpoLeftAxis, fMidAxis}, {mpoDownAxis, 2}})
	return x2.Transpose(2, 1, 0, 3, 4)
}

// leftSource returns theta W R of shape {wUp, top, left, up1, wLeft}, the
// part of H theta that is left open at the bond left of site i+1.
func leftSource(r, w, theta *tensor.Dense) *tensor.Dense {
	x1 := tensor.Product(r, theta, [][2]int{{fBotAxis, 3}})
	x2 := tensor.Product(w, x1, [][2]int{{mpoRightAxis, fMidAxis}, {mpoDownAxis, 4}})
	return x2.Transpose(1, 2, 3, 4, 0)
}

// countCap saturates the state counts of long chains.
const countCap = 1 << 30

// stateCounts returns, for every bond b and label q, the number of states of
// sites 0..b-1 that carry q, and the number of states of sites b.. that
// complete q to the label of the right boundary.
func stateCounts(m *MPS) (fill, reach []map[symm.QN]int) {
	n := m.Len()
	fill = make([]map[symm.QN]int, n+1)
	reach = make([]map[symm.QN]int, n+1)
	fill[0] = make(map[symm.QN]int)
	for _, q := range m.labels[0] {
		fill[0][q] = 1
	}
	for b := range n {
		fill[b+1] = make(map[symm.QN]int)
		for q, c := range fill[b] {
			for _, p := range m.phys[b] {
				fill[b+1][q.Add(p)] = min(fill[b+1][q.Add(p)]+c, countCap)
			}
		}
	}
	reach[n] = make(map[symm.QN]int)
	for _, q := range m.labels[n] {
		reach[n][q] = 1
	}
	for b := n - 1; b >= 0; b-- {
		reach[b] = make(map[symm.QN]int)
		for q, c := range reach[b+1] {
			for _, p := range m.phys[b] {
				reach[b][q.Sub(p)] = min(reach[b][q.Sub(p)]+c, countCap)
			}
		}
	}
	return fill, reach
}

func (e *evolver) record(i int, svd tensor.Split) {
	e.discarded += svd.Discarded
	e.truncation += math.Sqrt(svd.Discarded)
	if e.throttler.Ok() {
		e.opt.logger.Debug("sweep", "site", i, "bond_dim", len(svd.Values), "discarded", svd.Discarded, "entropy", tensor.Entropy(svd.Values))
	}
}

// propagate returns exp(-tau*H) v normalized, together with the logarithm of
// the norm of the unnormalized result. H is given by its action apply and
// must be symmetric. The exponential is integrated with Runge-Kutta sub-steps
// of H - e0, where e0 is the Rayleigh quotient of v.
func propagate(v *tensor.Dense, apply func(*tensor.Dense) *tensor.Dense, tau float64, method Method) (*tensor.Dense, float64, error) {
	v = v.Clone()
	n0 := v.Normalize()
	if !(n0 > 0) || !isFinite(n0) {
		return nil, 0, errors.Errorf("norm %f", n0)
	}

	hv := apply(v)
	e0 := tensor.Dot(v, hv)
	logNorm := math.Log(n0) - tau*e0
	r := hv.AddScaled(-e0, v)
	if r.Norm() < residualTol*max(1, math.Abs(e0)) {
		return v, logNorm, nil
	}

	// f(y) = -(H - e0) y.
	f := func(y *tensor.Dense) *tensor.Dense {
		return apply(y).AddScaled(-e0, y).Scale(-1)
	}
	rho := spectralRadius(r, f)
	nSub := max(int(math.Ceil(math.Abs(tau)*rho*radiusSafety/maxStepNorm)), 1)
	dt := tau / float64(nSub)
	for range nSub {
		switch method {
		case RK2:
			v = rk2(f, v, dt)
		default:
			v = rk4(f, v, dt)
		}
		n := v.Normalize()
		if !(n > 0) || !isFinite(n) {
			return nil, 0, errors.Errorf("norm %f rho %f nSub %d", n, rho, nSub)
		}
		logNorm += math.Log(n)
	}
	return v, logNorm, nil
}

// spectralRadius estimates the largest magnitude eigenvalue of f by power
// iteration starting from x.
func spectralRadius(x *tensor.Dense, f func(*tensor.Dense) *tensor.Dense) float64 {
	x = x.Clone()
	x.Normalize()
	var rho float64
	for range powerIters {
		y := f(x)
		n := y.Normalize()
		if n == 0 {
			break
		}
		rho = max(rho, n)
		x = y
	}
	return rho
}

// rk4 advances y' = f(y) by dt with the classical fourth order Runge-Kutta method.
func rk4(f func(*tensor.Dense) *tensor.Dense, y *tensor.Dense, dt float64) *tensor.Dense {
	k1 := f(y)
	k2 := f(y.Clone().AddScaled(dt/2, k1))
	k3 := f(y.Clone().AddScaled(dt/2, k2))
	k4 := f(y.Clone().AddScaled(dt, k3))
	return y.Clone().AddScaled(dt/6, k1).AddScaled(dt/3, k2).AddScaled(dt/3, k3).AddScaled(dt/6, k4)
}

// rk2 advances y' = f(y) by dt with the midpoint method.
func rk2(f func(*tensor.Dense) *tensor.Dense, y *tensor.Dense, dt float64) *tensor.Dense {
	k1 := f(y)
	k2 := f(y.Clone().AddScaled(dt/2, k1))
	return y.Clone().AddScaled(dt, k2)
}
