package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/avocet-obs/radarpipe/internal/oracle"
	"github.com/avocet-obs/radarpipe/internal/stage"
	"github.com/avocet-obs/radarpipe/internal/unit"
)

// fakeStrategy serves canned expected outputs per unit key, or an
// introspection error.
type fakeStrategy struct {
	outputs map[string][]string
	errs    map[string]error
}

func (s *fakeStrategy) ExpectedOutputs(u unit.Unit) (oracle.OutputSet, error) {
	if err := s.errs[u.Key()]; err != nil {
		return oracle.OutputSet{}, err
	}
	return oracle.OutputSet{
		Categories: map[string][]string{"csv": s.outputs[u.Key()]},
	}, nil
}

// mockSubmitter records every request and fails the units it is told to.
type mockSubmitter struct {
	calls  []Request
	failOn map[string]bool
}

func (m *mockSubmitter) Submit(ctx context.Context, req Request) (string, error) {
	m.calls = append(m.calls, req)
	if m.failOn[req.Unit.Key()] {
		return "", errors.New("scheduler unavailable")
	}
	return "12345", nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testUnit(site, day string) unit.Unit {
	return unit.Unit{Site: site, Day: day, Stage: "vol2bird", Input: "/in/" + site + "/" + day}
}

func TestDispatchIdempotent(t *testing.T) {
	out := filepath.Join(t.TempDir(), "vol_vp.csv")
	u := testUnit("chenies", "20250101")

	strat := &fakeStrategy{outputs: map[string][]string{u.Key(): {out}}}
	sub := &mockSubmitter{}
	d := &Dispatcher{
		Stage:     stage.Config{Name: "vol2bird"},
		Oracle:    oracle.New(strat),
		Submitter: sub,
		Log:       discard(),
	}

	sum, err := d.DispatchAll(context.Background(), []unit.Unit{u}, false)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Submitted != 1 || len(sub.calls) != 1 {
		t.Fatalf("first run: %+v, %d calls; want one submission", sum, len(sub.calls))
	}

	// The job "ran": its output now exists. A second identical invocation
	// must submit nothing.
	if err := os.WriteFile(out, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	sum, err = d.DispatchAll(context.Background(), []unit.Unit{u}, false)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Submitted != 0 || sum.Skipped != 1 || len(sub.calls) != 1 {
		t.Fatalf("second run: %+v, %d calls; want zero new submissions", sum, len(sub.calls))
	}
}

func TestDispatchForceResubmitsComplete(t *testing.T) {
	out := filepath.Join(t.TempDir(), "vol_vp.csv")
	if err := os.WriteFile(out, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	u := testUnit("chenies", "20250101")

	sub := &mockSubmitter{}
	d := &Dispatcher{
		Stage:     stage.Config{Name: "vol2bird"},
		Oracle:    oracle.New(&fakeStrategy{outputs: map[string][]string{u.Key(): {out}}}),
		Submitter: sub,
		Log:       discard(),
	}

	sum, err := d.DispatchAll(context.Background(), []unit.Unit{u}, true)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Submitted != 1 {
		t.Fatalf("force run: %+v, want the complete unit resubmitted", sum)
	}
	if len(sub.calls) != 1 || !sub.calls[0].Force {
		t.Fatalf("calls = %+v, want one forced request", sub.calls)
	}
}

func TestDispatchBatchIndependence(t *testing.T) {
	dir := t.TempDir()
	a := testUnit("chenies", "20250101")
	b := testUnit("thurnham", "20250101")

	strat := &fakeStrategy{outputs: map[string][]string{
		a.Key(): {filepath.Join(dir, "a.csv")},
		b.Key(): {filepath.Join(dir, "b.csv")},
	}}
	sub := &mockSubmitter{failOn: map[string]bool{a.Key(): true}}
	d := &Dispatcher{
		Stage:     stage.Config{Name: "vol2bird"},
		Oracle:    oracle.New(strat),
		Submitter: sub,
		Log:       discard(),
	}

	sum, err := d.DispatchAll(context.Background(), []unit.Unit{a, b}, false)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Failed != 1 || sum.Submitted != 1 {
		t.Fatalf("summary = %+v, want one failure and one submission", sum)
	}
	if len(sub.calls) != 2 {
		t.Fatalf("%d submission calls, want 2 (failure must not abort the batch)", len(sub.calls))
	}
}

func TestDispatchScanFailedExcluded(t *testing.T) {
	u := testUnit("chenies", "20250101")
	strat := &fakeStrategy{errs: map[string]error{u.Key(): errors.New("corrupt volume")}}
	sub := &mockSubmitter{}
	d := &Dispatcher{
		Stage:     stage.Config{Name: "vol2bird"},
		Oracle:    oracle.New(strat),
		Submitter: sub,
		Log:       discard(),
	}

	// Scan failures exclude the unit even under force, and never count as
	// dispatch failures.
	for _, force := range []bool{false, true} {
		sum, err := d.DispatchAll(context.Background(), []unit.Unit{u}, force)
		if err != nil {
			t.Fatal(err)
		}
		if sum.ScanFailed != 1 || sum.Failed != 0 || sum.Submitted != 0 {
			t.Fatalf("force=%v: summary = %+v, want only ScanFailed counted", force, sum)
		}
	}
	if len(sub.calls) != 0 {
		t.Fatalf("%d submission calls, want 0", len(sub.calls))
	}
}

func TestDispatchCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &Dispatcher{
		Stage:     stage.Config{Name: "vol2bird"},
		Oracle:    oracle.New(&fakeStrategy{}),
		Submitter: &mockSubmitter{},
		Log:       discard(),
	}
	if _, err := d.DispatchAll(ctx, []unit.Unit{testUnit("chenies", "20250101")}, false); err == nil {
		t.Fatal("DispatchAll with cancelled context succeeded, want error")
	}
}
