package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/capture"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/pipeline"
	"github.com/loqalabs/loqa-scribe/internal/queue"
)

// fakeRecorder writes the output file, then idles until SIGTERM like sox does.
const fakeRecorder = `sh -c 'trap "exit 0" TERM; printf RIFF > "$0"; while :; do sleep 0.02; done'`

type bufferPrinter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (p *bufferPrinter) Printf(format string, args ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(&p.buf, format, args...)
	return err
}

func (p *bufferPrinter) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.String()
}

// fakeConsumer stands in for worker plus dispatcher: it pops artifacts and
// reports each as delivered once gate is open.
type fakeConsumer struct {
	mu        sync.Mutex
	artifacts []capture.Artifact
}

func (f *fakeConsumer) got() []capture.Artifact {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capture.Artifact(nil), f.artifacts...)
}

type fixture struct {
	ctrl     *Controller
	work     *queue.Queue[capture.Artifact]
	printer  *bufferPrinter
	consumer *fakeConsumer
	commands chan Command
	done     chan error
}

func newFixture(t *testing.T, recorderCmd string, cfg config.SessionConfig, gate <-chan struct{}) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec, err := capture.NewRecorder(config.RecorderConfig{
		Command:       recorderCmd,
		Directory:     t.TempDir(),
		SampleRate:    16000,
		Channels:      1,
		BitDepth:      16,
		StopTimeoutMS: 2000,
	}, logger)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	f := &fixture{
		work:     queue.New[capture.Artifact](),
		printer:  &bufferPrinter{},
		consumer: &fakeConsumer{},
		commands: make(chan Command),
		done:     make(chan error, 1),
	}
	drained := make(chan struct{})
	f.ctrl = NewController(Options{
		Config:   cfg,
		Cleanup:  false,
		Recorder: rec,
		Work:     f.work,
		Drained:  drained,
		Printer:  f.printer,
		Logger:   logger,
	})

	go func() {
		defer close(drained)
		for {
			a, err := f.work.Pop(10 * time.Millisecond)
			if errors.Is(err, queue.ErrStopped) {
				return
			}
			if err != nil {
				continue
			}
			if gate != nil {
				<-gate
			}
			f.consumer.mu.Lock()
			f.consumer.artifacts = append(f.consumer.artifacts, a)
			f.consumer.mu.Unlock()
			f.ctrl.Delivered(pipeline.Result{ArtifactID: a.ID})
		}
	}()
	return f
}

func (f *fixture) run(ctx context.Context) {
	go func() { f.done <- f.ctrl.Run(ctx, f.commands) }()
}

func (f *fixture) send(t *testing.T, name string, args ...string) {
	t.Helper()
	select {
	case f.commands <- Command{Name: name, Args: args}:
	case <-time.After(5 * time.Second):
		t.Fatalf("controller did not accept %s", name)
	}
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	select {
	case err := <-f.done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("controller did not shut down")
	}
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", c.State(), want)
}

func TestStartStopEnqueuesArtifact(t *testing.T) {
	f := newFixture(t, fakeRecorder, config.SessionConfig{}, nil)
	f.run(context.Background())

	f.send(t, CmdStart)
	waitForState(t, f.ctrl, StateRecording)
	f.send(t, CmdStop)
	waitForState(t, f.ctrl, StateIdle)
	f.send(t, CmdQuit)
	f.wait(t)

	got := f.consumer.got()
	if len(got) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(got))
	}
	if got[0].Interrupted || got[0].Path == "" {
		t.Fatalf("unexpected artifact %+v", got[0])
	}
	if f.ctrl.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", f.ctrl.State())
	}
}

func TestQuitDuringRecordingKeepsAudio(t *testing.T) {
	f := newFixture(t, fakeRecorder, config.SessionConfig{Autostart: true}, nil)
	f.run(context.Background())

	waitForState(t, f.ctrl, StateRecording)
	// let the recorder write before quitting
	time.Sleep(100 * time.Millisecond)
	f.send(t, CmdQuit)
	f.wait(t)

	got := f.consumer.got()
	if len(got) != 1 {
		t.Fatalf("expected the in-progress recording to be delivered, got %d", len(got))
	}
	data, err := os.ReadFile(got[0].Path)
	if err != nil {
		t.Fatalf("recording missing after quit: %v", err)
	}
	if string(data) != "RIFF" {
		t.Fatalf("unexpected recording content %q", data)
	}
	if f.ctrl.Pending() != 0 {
		t.Fatalf("expected nothing pending after shutdown, got %d", f.ctrl.Pending())
	}
}

func TestShutdownWaitsForDelivery(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, fakeRecorder, config.SessionConfig{}, gate)
	f.run(context.Background())

	f.send(t, CmdStart)
	waitForState(t, f.ctrl, StateRecording)
	f.send(t, CmdStop)
	waitForState(t, f.ctrl, StateTranscribing)
	f.send(t, CmdStatus)
	f.send(t, CmdQuit)

	select {
	case <-f.done:
		t.Fatal("controller exited before results were delivered")
	case <-time.After(100 * time.Millisecond):
	}
	if !strings.Contains(f.printer.String(), "Queue: 1") {
		t.Fatalf("status should report the queued recording:\n%s", f.printer.String())
	}
	close(gate)
	f.wait(t)
	if len(f.consumer.got()) != 1 {
		t.Fatal("expected queued recording to be delivered before exit")
	}
}

func TestCaptureStartFailureStaysIdle(t *testing.T) {
	f := newFixture(t, "/nonexistent/recorder-binary", config.SessionConfig{}, nil)
	f.run(context.Background())

	f.send(t, CmdStart)
	f.send(t, CmdStatus)
	if f.ctrl.State() != StateIdle {
		t.Fatalf("expected idle after failed start, got %s", f.ctrl.State())
	}
	if !strings.Contains(f.printer.String(), "Could not start recording") {
		t.Fatalf("expected start error to be surfaced:\n%s", f.printer.String())
	}
	f.send(t, CmdQuit)
	f.wait(t)
	if len(f.consumer.got()) != 0 {
		t.Fatal("nothing should be enqueued after a failed start")
	}
}

func TestIdleTimeoutShutsDown(t *testing.T) {
	f := newFixture(t, fakeRecorder, config.SessionConfig{IdleTimeoutMS: 50}, nil)
	f.run(context.Background())
	f.wait(t)
	if f.ctrl.State() != StateStopped {
		t.Fatalf("expected stopped after idle timeout, got %s", f.ctrl.State())
	}
	if !strings.Contains(f.printer.String(), "No input") {
		t.Fatalf("expected idle notice:\n%s", f.printer.String())
	}
}

func TestContextCancelShutsDown(t *testing.T) {
	f := newFixture(t, fakeRecorder, config.SessionConfig{Autostart: true}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.run(ctx)
	waitForState(t, f.ctrl, StateRecording)
	cancel()
	f.wait(t)
	if len(f.consumer.got()) != 1 {
		t.Fatal("recording should be kept on signal shutdown")
	}
}

func TestInterruptedCaptureIsEnqueued(t *testing.T) {
	f := newFixture(t, `sh -c 'printf RIFF > "$0"; exit 1'`, config.SessionConfig{Autostart: true, Continuous: true}, nil)
	f.run(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for len(f.consumer.got()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	got := f.consumer.got()
	if len(got) != 1 || !got[0].Interrupted {
		t.Fatalf("expected one interrupted artifact, got %+v", got)
	}
	waitForState(t, f.ctrl, StateIdle)
	f.send(t, CmdQuit)
	f.wait(t)
}

func TestContinuousModeRestartsRecording(t *testing.T) {
	f := newFixture(t, fakeRecorder, config.SessionConfig{Continuous: true}, nil)
	f.run(context.Background())

	f.send(t, CmdStart)
	waitForState(t, f.ctrl, StateRecording)
	f.send(t, CmdStop)
	f.send(t, CmdStatus)
	if f.ctrl.State() != StateRecording {
		t.Fatalf("continuous mode should keep recording, got %s", f.ctrl.State())
	}
	f.send(t, CmdQuit)
	f.wait(t)
	if len(f.consumer.got()) != 2 {
		t.Fatalf("expected both recordings delivered, got %d", len(f.consumer.got()))
	}
}

func TestSubmitStartsNextRecording(t *testing.T) {
	f := newFixture(t, fakeRecorder, config.SessionConfig{}, nil)
	f.run(context.Background())

	f.send(t, CmdSubmit)
	f.send(t, CmdStart)
	waitForState(t, f.ctrl, StateRecording)
	f.send(t, CmdSubmit)
	f.send(t, CmdStatus)
	if f.ctrl.State() != StateRecording {
		t.Fatalf("submit should keep recording, got %s", f.ctrl.State())
	}
	f.send(t, CmdQuit)
	f.wait(t)
	if len(f.consumer.got()) != 2 {
		t.Fatalf("expected 2 recordings, got %d", len(f.consumer.got()))
	}
	if !strings.Contains(f.printer.String(), "Not recording") {
		t.Fatal("submit while idle should be rejected")
	}
}

type fakeCopier struct{ n int }

func (c *fakeCopier) CopyRecent(_ context.Context, n int) (int, error) {
	c.n = n
	return n, nil
}

func TestCopyCommandUsesCopier(t *testing.T) {
	f := newFixture(t, fakeRecorder, config.SessionConfig{}, nil)
	copier := &fakeCopier{}
	f.ctrl.copier = copier
	f.run(context.Background())

	f.send(t, CmdCopy, "3")
	f.send(t, CmdQuit)
	f.wait(t)
	if copier.n != 3 {
		t.Fatalf("expected copy of 3 transcripts, got %d", copier.n)
	}
	if !strings.Contains(f.printer.String(), "Copied 3") {
		t.Fatalf("unexpected output:\n%s", f.printer.String())
	}
}

func TestSettleRacingDeliveryEndsIdle(t *testing.T) {
	c := NewController(Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	for i := 0; i < 500; i++ {
		c.mu.Lock()
		c.state = StateStopping
		c.enqueued++
		c.mu.Unlock()

		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			c.settle()
		}()
		go func() {
			defer wg.Done()
			<-start
			c.Delivered(pipeline.Result{})
		}()
		close(start)
		wg.Wait()

		if got := c.State(); got != StateIdle || c.Pending() != 0 {
			t.Fatalf("iteration %d: state %s with %d pending", i, got, c.Pending())
		}
	}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateIdle, StateRecording, true},
		{StateIdle, StateStopping, false},
		{StateRecording, StateStopping, true},
		{StateRecording, StateIdle, false},
		{StateStopping, StateTranscribing, true},
		{StateStopping, StateRecording, true},
		{StateTranscribing, StateIdle, true},
		{StateTranscribing, StateRecording, true},
		{StateRecording, StateShuttingDown, true},
		{StateShuttingDown, StateShuttingDown, false},
		{StateShuttingDown, StateStopped, true},
		{StateStopped, StateRecording, false},
	}
	for _, tc := range cases {
		if got := isValidTransition(tc.from, tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		line string
		want string
		ok   bool
	}{
		{"", CmdToggle, true},
		{"  START ", CmdStart, true},
		{"q", CmdQuit, true},
		{"n", CmdSubmit, true},
		{"copy 2", CmdCopy, true},
		{"dance", "dance", false},
	}
	for _, tc := range cases {
		cmd, ok := ParseCommand(tc.line)
		if ok != tc.ok || cmd.Name != tc.want {
			t.Fatalf("ParseCommand(%q) = %+v, %v", tc.line, cmd, ok)
		}
	}
	if cmd, _ := ParseCommand("copy 2"); cmd.intArg(1) != 2 {
		t.Fatalf("expected copy argument 2, got %v", cmd.Args)
	}
	if cmd, _ := ParseCommand("copy x"); cmd.intArg(1) != 1 {
		t.Fatal("invalid argument should fall back to default")
	}
}
