package console

import (
	"bufio"
	"context"
	"io"
	"log/slog"

	"github.com/loqalabs/loqa-scribe/internal/session"
)

// Reader turns lines of operator input into session commands.
type Reader struct {
	in     io.Reader
	out    session.Printer
	logger *slog.Logger
}

func NewReader(in io.Reader, out session.Printer, logger *slog.Logger) *Reader {
	return &Reader{in: in, out: out, logger: logger.With(slog.String("component", "console"))}
}

// Commands starts reading in a goroutine. The returned channel is closed on
// EOF, on a read error, or when ctx is done. Unknown input is reported to
// the operator and not forwarded.
func (r *Reader) Commands(ctx context.Context) <-chan session.Command {
	out := make(chan session.Command)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			cmd, ok := session.ParseCommand(scanner.Text())
			if !ok {
				_ = r.out.Printf("Unknown command %q, type help\n", cmd.Name)
				continue
			}
			select {
			case out <- cmd:
			case <-ctx.Done():
				return
			}
			if cmd.Name == session.CmdQuit {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			r.logger.Warn("console read failed", slog.String("error", err.Error()))
		}
	}()
	return out
}
