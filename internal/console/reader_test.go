package console

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/session"
)

type bufPrinter struct{ bytes.Buffer }

func (b *bufPrinter) Printf(format string, args ...any) error {
	_, err := fmt.Fprintf(&b.Buffer, format, args...)
	return err
}

func collect(t *testing.T, ch <-chan session.Command) []session.Command {
	t.Helper()
	var cmds []session.Command
	timeout := time.After(5 * time.Second)
	for {
		select {
		case cmd, ok := <-ch:
			if !ok {
				return cmds
			}
			cmds = append(cmds, cmd)
		case <-timeout:
			t.Fatal("reader did not close its channel")
		}
	}
}

func TestReaderParsesLinesUntilQuit(t *testing.T) {
	out := &bufPrinter{}
	in := strings.NewReader("start\n\nbogus\ncopy 3\nq\nstart\n")
	r := NewReader(in, out, slog.New(slog.NewTextHandler(io.Discard, nil)))

	cmds := collect(t, r.Commands(context.Background()))
	want := []string{session.CmdStart, session.CmdToggle, session.CmdCopy, session.CmdQuit}
	if len(cmds) != len(want) {
		t.Fatalf("got %+v, want %v", cmds, want)
	}
	for i, name := range want {
		if cmds[i].Name != name {
			t.Fatalf("command %d = %s, want %s", i, cmds[i].Name, name)
		}
	}
	if len(cmds[2].Args) != 1 || cmds[2].Args[0] != "3" {
		t.Fatalf("copy args = %v", cmds[2].Args)
	}
	if !strings.Contains(out.String(), `Unknown command "bogus"`) {
		t.Fatalf("expected unknown command notice, got %q", out.String())
	}
}

func TestReaderClosesOnEOF(t *testing.T) {
	r := NewReader(strings.NewReader("status\n"), &bufPrinter{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	cmds := collect(t, r.Commands(context.Background()))
	if len(cmds) != 1 || cmds[0].Name != session.CmdStatus {
		t.Fatalf("unexpected commands %+v", cmds)
	}
}
