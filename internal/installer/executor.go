// Package installer executes an installation plan against an automation
// account, phase by phase.
//
// Per-module flow within a phase:
//  1. Already installed at or above the planned version -> Succeeded, no
//     provisioning call
//  2. Installed but older -> remove, poll until absent, then install
//  3. Absent -> submit the install job
//
// After the submission sweep the executor polls every module's job status
// sequentially until the whole phase is terminal or the phase deadline
// passes. Phases run strictly in plan order; the first failure stops the
// run (completed phases are not rolled back).
package installer

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/y0rik/pwsh-azure/internal/automation"
	"github.com/y0rik/pwsh-azure/internal/planner"
	"github.com/y0rik/pwsh-azure/internal/semver"
)

const (
	pollInterval        = 5 * time.Second
	removalPollInterval = 2 * time.Second
	removalTimeout      = 90 * time.Second

	// Phase deadline: 300s base plus 10s per module, with a 550s floor for
	// phases over 20 modules (large-phase imports queue behind each other).
	phaseTimeoutBase      = 300
	phaseTimeoutPerModule = 10
	largePhaseSize        = 20
	largePhaseMinTimeout  = 550
)

// Provisioner is the account-side collaborator (see internal/automation).
type Provisioner interface {
	GetModule(ctx context.Context, name string) (*automation.Module, error)
	SubmitInstall(ctx context.Context, name, version, contentURI string) (string, error)
	RemoveModule(ctx context.Context, name string) error
}

// ContentSource derives package download locations (see internal/gallery).
type ContentSource interface {
	ContentURL(repository, name, version string) (string, error)
}

// Executor drives a plan to completion.
type Executor struct {
	prov    Provisioner
	content ContentSource
	clock   Clock
}

// Option adjusts an Executor.
type Option func(*Executor)

// WithClock replaces the wall clock; tests use a fake.
func WithClock(c Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// New creates an executor.
func New(prov Provisioner, content ContentSource, opts ...Option) *Executor {
	e := &Executor{prov: prov, content: content, clock: realClock{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes every phase in order. The first phase error aborts the
// remaining phases.
func (e *Executor) Run(ctx context.Context, phases []planner.Phase) error {
	for _, ph := range phases {
		log.Printf("[installer] Phase %d: %d module(s)", ph.Index, len(ph.Modules))
		if err := e.ExecutePhase(ctx, ph); err != nil {
			return err
		}
		log.Printf("[installer] Phase %d complete", ph.Index)
	}
	return nil
}

// ExecutePhase submits or skips every module in the phase, then polls until
// all of them are terminal or the phase deadline passes.
func (e *Executor) ExecutePhase(ctx context.Context, phase planner.Phase) error {
	for _, m := range phase.Modules {
		if err := e.prepareModule(ctx, m); err != nil {
			// Only removal timeouts (and context cancellation) escape
			// prepareModule; everything else is recorded on the module.
			return err
		}
	}

	deadline := e.clock.Now().Add(phaseTimeout(len(phase.Modules)))
	for {
		if allTerminal(phase.Modules) {
			return nil
		}
		if !e.clock.Now().Before(deadline) {
			return &PhaseTimeoutError{Phase: phase.Index, Pending: pendingStatuses(phase.Modules)}
		}
		if err := e.clock.Sleep(ctx, pollInterval); err != nil {
			return err
		}
		e.refreshStatuses(ctx, phase.Modules)
	}
}

// prepareModule makes the skip/remove/install decision for one module.
func (e *Executor) prepareModule(ctx context.Context, m *planner.Module) error {
	installed, err := e.prov.GetModule(ctx, m.Name)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Treat a failed lookup as absent; the install submission will
		// surface a real account problem.
		log.Printf("[installer] %s: installed-version lookup failed, assuming absent: %v", m.Name, err)
		installed = nil
	}

	if installed != nil {
		if installedSatisfies(installed.Version, m.Version) {
			log.Printf("[installer] %s %s already satisfied by installed %s, skipping", m.Name, m.Version, installed.Version)
			m.Status = planner.StatusSucceeded
			return nil
		}
		log.Printf("[installer] %s: installed %s is older than planned %s, removing first", m.Name, installed.Version, m.Version)
		if err := e.removeExisting(ctx, m); err != nil {
			if errors.Is(err, errSkipInstall) {
				return nil
			}
			return err
		}
	}

	uri, err := e.content.ContentURL(m.Repository, m.Name, m.Version)
	if err != nil {
		serr := &ProvisioningSubmitError{Module: m.Name, Err: err}
		log.Printf("[installer] %v", serr)
		m.Status = planner.StatusFailed
		m.Err = serr.Error()
		return nil
	}

	state, err := e.prov.SubmitInstall(ctx, m.Name, m.Version, uri)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		serr := &ProvisioningSubmitError{Module: m.Name, Err: err}
		log.Printf("[installer] %v", serr)
		m.Status = planner.StatusFailed
		m.Err = serr.Error()
		return nil
	}

	m.Status = statusFromState(state)
	log.Printf("[installer] %s %s submitted (state %s)", m.Name, m.Version, state)
	return nil
}

// removeExisting deletes the installed module and polls until the account
// reports it absent.
func (e *Executor) removeExisting(ctx context.Context, m *planner.Module) error {
	if err := e.prov.RemoveModule(ctx, m.Name); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		serr := &ProvisioningSubmitError{Module: m.Name, Err: err}
		log.Printf("[installer] %v", serr)
		m.Status = planner.StatusFailed
		m.Err = serr.Error()
		// Reported per-module like a submit failure; skip the install.
		return errSkipInstall
	}

	deadline := e.clock.Now().Add(removalTimeout)
	for {
		installed, err := e.prov.GetModule(ctx, m.Name)
		if err == nil && installed == nil {
			return nil
		}
		if !e.clock.Now().Before(deadline) {
			m.Err = "removal timed out"
			return &RemovalTimeoutError{Module: m.Name}
		}
		if err := e.clock.Sleep(ctx, removalPollInterval); err != nil {
			return err
		}
	}
}

// errSkipInstall short-circuits prepareModule after a failed removal call
// without aborting the phase.
var errSkipInstall = errors.New("skip install")

// refreshStatuses reads every non-terminal module's job state once. Read
// failures park the module in Unknown; it is retried next sweep.
func (e *Executor) refreshStatuses(ctx context.Context, modules []*planner.Module) {
	for _, m := range modules {
		if m.Status.Terminal() || m.Status == planner.StatusNotStarted {
			continue
		}
		installed, err := e.prov.GetModule(ctx, m.Name)
		if err != nil {
			m.Status = planner.StatusUnknown
			continue
		}
		if installed == nil {
			// Import job not materialized yet; keep waiting.
			if m.Status == planner.StatusUnknown {
				m.Status = planner.StatusSubmitted
			}
			continue
		}
		m.Status = statusFromState(installed.ProvisioningState)
		if m.Status == planner.StatusFailed && m.Err == "" {
			m.Err = "provisioning state " + installed.ProvisioningState
		}
	}
}

func statusFromState(state string) planner.Status {
	switch state {
	case automation.StateSucceeded:
		return planner.StatusSucceeded
	case automation.StateFailed, automation.StateCancelled:
		return planner.StatusFailed
	default:
		return planner.StatusSubmitted
	}
}

// installedSatisfies reports whether an installed version covers the planned
// one. Unparseable versions never satisfy, forcing a reinstall.
func installedSatisfies(installed, planned string) bool {
	iv, err := semver.Parse(installed)
	if err != nil {
		return false
	}
	pv, err := semver.Parse(planned)
	if err != nil {
		return false
	}
	return semver.GTE(iv, pv)
}

func allTerminal(modules []*planner.Module) bool {
	for _, m := range modules {
		if !m.Status.Terminal() {
			return false
		}
	}
	return true
}

func pendingStatuses(modules []*planner.Module) map[string]string {
	pending := make(map[string]string)
	for _, m := range modules {
		if !m.Status.Terminal() {
			pending[m.Name] = m.Status.String()
		}
	}
	return pending
}

func phaseTimeout(size int) time.Duration {
	secs := phaseTimeoutBase + phaseTimeoutPerModule*size
	if size > largePhaseSize && secs < largePhaseMinTimeout {
		secs = largePhaseMinTimeout
	}
	return time.Duration(secs) * time.Second
}
