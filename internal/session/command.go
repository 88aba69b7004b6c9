package session

import (
	"strconv"
	"strings"
)

// Command is one control request from the console or another front end.
type Command struct {
	Name string
	Args []string
}

const (
	CmdStart  = "start"
	CmdStop   = "stop"
	CmdToggle = "toggle"
	CmdSubmit = "submit"
	CmdStatus = "status"
	CmdCopy   = "copy"
	CmdHelp   = "help"
	CmdQuit   = "quit"
)

var aliases = map[string]string{
	"start":  CmdStart,
	"stop":   CmdStop,
	"toggle": CmdToggle,
	"submit": CmdSubmit,
	"status": CmdStatus,
	"copy":   CmdCopy,
	"help":   CmdHelp,
	"quit":   CmdQuit,

	"":     CmdToggle,
	"t":    CmdToggle,
	"r":    CmdStart,
	"s":    CmdStop,
	"n":    CmdSubmit,
	"next": CmdSubmit,
	"?":    CmdStatus,
	"c":    CmdCopy,
	"h":    CmdHelp,
	"q":    CmdQuit,
	"exit": CmdQuit,
}

// ParseCommand maps a console line to a command. An empty line toggles
// recording. ok is false for unknown input.
func ParseCommand(line string) (Command, bool) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(line)))
	word := ""
	if len(fields) > 0 {
		word = fields[0]
	}
	name, ok := aliases[word]
	if !ok {
		return Command{Name: word}, false
	}
	var args []string
	if len(fields) > 1 {
		args = fields[1:]
	}
	return Command{Name: name, Args: args}, true
}

// intArg returns the first argument as a positive int, or def.
func (c Command) intArg(def int) int {
	if len(c.Args) == 0 {
		return def
	}
	n, err := strconv.Atoi(c.Args[0])
	if err != nil || n <= 0 {
		return def
	}
	return n
}

const helpText = `Commands:
  start (r)          start recording
  stop (s)           stop recording and transcribe it
  toggle (t, Enter)  start or stop recording
  submit (n)         transcribe the current recording and keep recording
  status (?)         show state and queue length
  copy [N] (c)       copy the last N transcripts to the clipboard
  quit (q)           finish pending transcriptions and exit
`
