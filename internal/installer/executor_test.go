package installer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/y0rik/pwsh-azure/internal/automation"
	"github.com/y0rik/pwsh-azure/internal/planner"
)

// fakeClock advances virtual time on every Sleep call.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

// fakeProvisioner scripts the account's responses per module name. Before a
// module is submitted, GetModule serves the installed map; afterwards it
// serves any scripted read failures, then the progression states (the last
// state repeats).
type fakeProvisioner struct {
	installed    map[string]*automation.Module
	submitErr    map[string]error
	progression  map[string][]string
	removeSticky map[string]bool // names whose removal never completes
	getFailures  map[string]int  // transient post-submit read errors

	submitted map[string]bool
	submits   []string
	removes   []string
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{
		installed:    make(map[string]*automation.Module),
		submitErr:    make(map[string]error),
		progression:  make(map[string][]string),
		removeSticky: make(map[string]bool),
		getFailures:  make(map[string]int),
		submitted:    make(map[string]bool),
	}
}

func (f *fakeProvisioner) GetModule(_ context.Context, name string) (*automation.Module, error) {
	if f.submitted[name] {
		if f.getFailures[name] > 0 {
			f.getFailures[name]--
			return nil, fmt.Errorf("transient read failure")
		}
		if states := f.progression[name]; len(states) > 0 {
			state := states[0]
			if len(states) > 1 {
				f.progression[name] = states[1:]
			}
			return &automation.Module{Name: name, ProvisioningState: state}, nil
		}
		return nil, nil
	}
	if m, ok := f.installed[name]; ok {
		return m, nil
	}
	return nil, nil
}

func (f *fakeProvisioner) SubmitInstall(_ context.Context, name, version, contentURI string) (string, error) {
	f.submits = append(f.submits, name+"@"+version)
	if err, ok := f.submitErr[name]; ok {
		return "", err
	}
	if contentURI == "" {
		return "", fmt.Errorf("missing content URI")
	}
	f.submitted[name] = true
	return "Creating", nil
}

func (f *fakeProvisioner) RemoveModule(_ context.Context, name string) error {
	f.removes = append(f.removes, name)
	if !f.removeSticky[name] {
		delete(f.installed, name)
	}
	return nil
}

type fakeContent struct{}

func (fakeContent) ContentURL(repository, name, version string) (string, error) {
	return "https://example.test/" + repository + "/package/" + name + "/" + version, nil
}

func phaseOf(index int, mods ...*planner.Module) planner.Phase {
	return planner.Phase{Index: index, Modules: mods}
}

func mod(name, version string) *planner.Module {
	return &planner.Module{Name: name, Version: version, Repository: "PSGallery"}
}

func newTestExecutor(prov Provisioner) (*Executor, *fakeClock) {
	clock := newFakeClock()
	return New(prov, fakeContent{}, WithClock(clock)), clock
}

func TestSkipWhenInstalledVersionSatisfies(t *testing.T) {
	prov := newFakeProvisioner()
	prov.installed["Az.Accounts"] = &automation.Module{Name: "Az.Accounts", Version: "2.2.3", ProvisioningState: "Succeeded"}

	e, _ := newTestExecutor(prov)
	m := mod("Az.Accounts", "2.2.3")

	if err := e.ExecutePhase(context.Background(), phaseOf(0, m)); err != nil {
		t.Fatalf("ExecutePhase failed: %v", err)
	}
	if m.Status != planner.StatusSucceeded {
		t.Fatalf("expected Succeeded, got %s", m.Status)
	}
	if len(prov.submits) != 0 {
		t.Fatalf("expected no install submission, got %v", prov.submits)
	}
	if len(prov.removes) != 0 {
		t.Fatalf("expected no removal, got %v", prov.removes)
	}
}

func TestSkipWhenInstalledVersionNewer(t *testing.T) {
	prov := newFakeProvisioner()
	prov.installed["Az.Accounts"] = &automation.Module{Name: "Az.Accounts", Version: "3.0.0", ProvisioningState: "Succeeded"}

	e, _ := newTestExecutor(prov)
	m := mod("Az.Accounts", "2.2.3")

	if err := e.ExecutePhase(context.Background(), phaseOf(0, m)); err != nil {
		t.Fatalf("ExecutePhase failed: %v", err)
	}
	if m.Status != planner.StatusSucceeded || len(prov.submits) != 0 {
		t.Fatalf("expected newer installed version to satisfy, got status=%s submits=%v", m.Status, prov.submits)
	}
}

func TestRemoveBeforeUpgrade(t *testing.T) {
	prov := newFakeProvisioner()
	prov.installed["Az.Accounts"] = &automation.Module{Name: "Az.Accounts", Version: "1.0.0", ProvisioningState: "Succeeded"}
	prov.progression["Az.Accounts"] = []string{"Creating", "Succeeded"}

	e, _ := newTestExecutor(prov)
	m := mod("Az.Accounts", "2.2.3")

	// Scripted: GetModule (installed 1.0.0) -> Remove -> GetModule (absent)
	// -> Submit -> poll Creating, then Succeeded.
	if err := e.ExecutePhase(context.Background(), phaseOf(0, m)); err != nil {
		t.Fatalf("ExecutePhase failed: %v", err)
	}

	if len(prov.removes) != 1 || prov.removes[0] != "Az.Accounts" {
		t.Fatalf("expected exactly one removal, got %v", prov.removes)
	}
	if len(prov.submits) != 1 || prov.submits[0] != "Az.Accounts@2.2.3" {
		t.Fatalf("expected one submission after removal, got %v", prov.submits)
	}
	if m.Status != planner.StatusSucceeded {
		t.Fatalf("expected Succeeded, got %s", m.Status)
	}
}

func TestRemovalTimeoutAborts(t *testing.T) {
	prov := newFakeProvisioner()
	prov.installed["Stuck"] = &automation.Module{Name: "Stuck", Version: "1.0.0"}
	prov.removeSticky["Stuck"] = true

	e, clock := newTestExecutor(prov)
	m := mod("Stuck", "2.0.0")

	start := clock.Now()
	err := e.ExecutePhase(context.Background(), phaseOf(0, m))
	var rte *RemovalTimeoutError
	if !errors.As(err, &rte) {
		t.Fatalf("expected RemovalTimeoutError, got %v", err)
	}
	if rte.Module != "Stuck" {
		t.Fatalf("unexpected module in error: %s", rte.Module)
	}
	if len(prov.submits) != 0 {
		t.Fatalf("expected no submission after removal timeout, got %v", prov.submits)
	}
	// 90s limit at 2s polls.
	if elapsed := clock.Now().Sub(start); elapsed < 90*time.Second || elapsed > 92*time.Second {
		t.Fatalf("unexpected removal wait: %v", elapsed)
	}
}

func TestPhaseCompletesWithinFirstSweep(t *testing.T) {
	prov := newFakeProvisioner()
	prov.installed["A"] = &automation.Module{Name: "A", Version: "1.0", ProvisioningState: "Succeeded"}
	prov.installed["B"] = &automation.Module{Name: "B", Version: "2.0", ProvisioningState: "Succeeded"}

	e, clock := newTestExecutor(prov)
	start := clock.Now()

	phase := phaseOf(1, mod("A", "1.0"), mod("B", "2.0"))
	if err := e.ExecutePhase(context.Background(), phase); err != nil {
		t.Fatalf("ExecutePhase failed: %v", err)
	}
	// All modules skipped; no polling sleep should have happened.
	if clock.Now() != start {
		t.Fatalf("expected no waiting, clock advanced %v", clock.Now().Sub(start))
	}
}

func TestPhasePollsUntilSucceeded(t *testing.T) {
	prov := newFakeProvisioner()
	prov.progression["A"] = []string{"Creating", "ContentDownloaded", "Succeeded"}

	e, clock := newTestExecutor(prov)
	m := mod("A", "1.0")

	// First GetModule (prepare) consumes "Creating" from the progression,
	// then the sweep submits and polls through the rest.
	start := clock.Now()
	if err := e.ExecutePhase(context.Background(), phaseOf(0, m)); err != nil {
		t.Fatalf("ExecutePhase failed: %v", err)
	}
	if m.Status != planner.StatusSucceeded {
		t.Fatalf("expected Succeeded, got %s", m.Status)
	}
	if clock.Now() == start {
		t.Fatal("expected at least one 5s poll wait")
	}
}

func TestPhaseTimeoutWithStuckModule(t *testing.T) {
	prov := newFakeProvisioner()
	// Import job never progresses past Creating.
	prov.progression["Stuck"] = []string{"Creating"}

	e, clock := newTestExecutor(prov)
	m := mod("Stuck", "1.0")

	start := clock.Now()
	err := e.ExecutePhase(context.Background(), phaseOf(0, m))
	var pte *PhaseTimeoutError
	if !errors.As(err, &pte) {
		t.Fatalf("expected PhaseTimeoutError, got %v", err)
	}
	if pte.Phase != 0 {
		t.Fatalf("unexpected phase in error: %d", pte.Phase)
	}
	if got := pte.Pending["Stuck"]; got != "Submitted" {
		t.Fatalf("expected snapshot to show Stuck as Submitted, got %q", got)
	}
	// One module: 300 + 10*1 = 310s deadline at 5s polls.
	if elapsed := clock.Now().Sub(start); elapsed < 310*time.Second || elapsed > 315*time.Second {
		t.Fatalf("unexpected phase wait: %v", elapsed)
	}
}

func TestSubmitErrorDoesNotAbortPhase(t *testing.T) {
	prov := newFakeProvisioner()
	prov.submitErr["Bad"] = fmt.Errorf("content link rejected")
	prov.progression["Good"] = []string{"Succeeded"}

	e, _ := newTestExecutor(prov)
	bad := mod("Bad", "1.0")
	good := mod("Good", "1.0")

	if err := e.ExecutePhase(context.Background(), phaseOf(0, bad, good)); err != nil {
		t.Fatalf("ExecutePhase failed: %v", err)
	}
	if bad.Status != planner.StatusFailed {
		t.Fatalf("expected Bad to be Failed, got %s", bad.Status)
	}
	if !strings.Contains(bad.Err, "content link rejected") {
		t.Fatalf("expected submit error recorded, got %q", bad.Err)
	}
	if good.Status != planner.StatusSucceeded {
		t.Fatalf("expected Good to be Succeeded, got %s", good.Status)
	}
}

func TestRunStopsAfterFailedPhase(t *testing.T) {
	prov := newFakeProvisioner()
	prov.progression["Dep"] = []string{"Creating"} // never terminal

	e, _ := newTestExecutor(prov)
	dep := mod("Dep", "1.0")
	root := mod("Root", "1.0")

	err := e.Run(context.Background(), []planner.Phase{
		phaseOf(1, dep),
		phaseOf(0, root),
	})
	var pte *PhaseTimeoutError
	if !errors.As(err, &pte) {
		t.Fatalf("expected PhaseTimeoutError, got %v", err)
	}
	if root.Status != planner.StatusNotStarted {
		t.Fatalf("expected root phase untouched, got %s", root.Status)
	}
	for _, s := range prov.submits {
		if strings.HasPrefix(s, "Root@") {
			t.Fatalf("root must not be submitted after dependency phase failure: %v", prov.submits)
		}
	}
}

func TestUnknownStatusRetried(t *testing.T) {
	prov := newFakeProvisioner()
	// Two status reads fail before the job reports Succeeded; the module
	// passes through Unknown and is retried rather than treated as done.
	prov.getFailures["Flaky"] = 2
	prov.progression["Flaky"] = []string{"Succeeded"}

	e, _ := newTestExecutor(prov)
	m := mod("Flaky", "1.0")

	if err := e.ExecutePhase(context.Background(), phaseOf(0, m)); err != nil {
		t.Fatalf("ExecutePhase failed: %v", err)
	}
	if m.Status != planner.StatusSucceeded {
		t.Fatalf("expected Succeeded after retries, got %s", m.Status)
	}
}

func TestPhaseTimeoutFormula(t *testing.T) {
	cases := []struct {
		size int
		want time.Duration
	}{
		{0, 300 * time.Second},
		{1, 310 * time.Second},
		{20, 500 * time.Second},
		{21, 550 * time.Second}, // floor kicks in above 20
		{24, 550 * time.Second},
		{25, 550 * time.Second},
		{26, 560 * time.Second}, // formula overtakes the floor
		{40, 700 * time.Second},
	}
	for _, c := range cases {
		if got := phaseTimeout(c.size); got != c.want {
			t.Errorf("phaseTimeout(%d) = %v, want %v", c.size, got, c.want)
		}
	}
}

func TestTerminalStatusNeverRegresses(t *testing.T) {
	prov := newFakeProvisioner()
	e, _ := newTestExecutor(prov)

	m := mod("Done", "1.0")
	m.Status = planner.StatusSucceeded

	// A later sweep reporting a non-terminal state must not move the module
	// backwards.
	prov.submitted["Done"] = true
	prov.progression["Done"] = []string{"Creating"}
	e.refreshStatuses(context.Background(), []*planner.Module{m})
	if m.Status != planner.StatusSucceeded {
		t.Fatalf("terminal status regressed to %s", m.Status)
	}
}
