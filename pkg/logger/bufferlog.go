// Package logger keeps per-load verbose logs in memory.
//
// Details are buffered while a view load runs:
//   - on failure the buffer is replayed, followed by the error;
//   - on success the buffer is dropped and one summary line is written.
//
// A dedicated goroutine owns the buffers; callers only send commands.
package logger

import (
	"bytes"
	"log"
	"strings"
)

type action int

const (
	actBegin action = iota
	actAppend
	actSuccess
	actFlushErr
	actSync
)

type cmd struct {
	act     action
	loadID  string
	message string
	err     error
	done    chan struct{}
}

var ch = make(chan cmd, 128)

// Output is where lines end up. Tests may swap it before any logging starts.
var Output = log.Default()

// Begin starts buffering for loadID.
func Begin(loadID string) { ch <- cmd{act: actBegin, loadID: loadID} }

// Append adds a verbose line. Lines for unknown ids are written immediately.
func Append(loadID, msg string) { ch <- cmd{act: actAppend, loadID: loadID, message: msg} }

// Success drops the buffer and writes summary.
func Success(loadID, summary string) {
	ch <- cmd{act: actSuccess, loadID: loadID, message: summary}
}

// FlushError replays the buffer and writes err.
func FlushError(loadID string, err error) {
	ch <- cmd{act: actFlushErr, loadID: loadID, err: err}
}

// Sync blocks until every command sent before it has been handled.
func Sync() {
	done := make(chan struct{})
	ch <- cmd{act: actSync, done: done}
	<-done
}

func init() { go runloop() }

func runloop() {
	buffers := make(map[string]*bytes.Buffer)

	for c := range ch {
		switch c.act {
		case actBegin:
			buffers[c.loadID] = &bytes.Buffer{}

		case actAppend:
			if b := buffers[c.loadID]; b != nil {
				_, _ = b.WriteString(c.message + "\n")
			} else {
				Output.Print(c.message)
			}

		case actSuccess:
			Output.Printf("[%s][load] ✔ %s", c.loadID, c.message)
			delete(buffers, c.loadID)

		case actFlushErr:
			if b := buffers[c.loadID]; b != nil {
				lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
				for _, ln := range lines {
					if ln != "" {
						Output.Print(ln)
					}
				}
				delete(buffers, c.loadID)
			}
			Output.Printf("[%s][ERROR] %v", c.loadID, c.err)

		case actSync:
			close(c.done)
		}
	}
}
