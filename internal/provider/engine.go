package provider

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/AltairaLabs/engine-broker/internal/model"
	"github.com/AltairaLabs/engine-broker/internal/uci"
)

// Engine wraps one long-lived UCI engine process. The threads and hash
// options and the analysis session are tracked so that consecutive jobs only
// resend them when they change; MultiPV is sent for every job.
type Engine struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  *bufio.Scanner
	logger *slog.Logger

	mu        sync.Mutex
	sessionID string
	threads   int
	hash      int
}

// StartEngine launches the engine via the shell and runs the uci handshake.
func StartEngine(ctx context.Context, command string, logger *slog.Logger) (*Engine, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}

	e := &Engine{
		cmd:    cmd,
		stdin:  stdin,
		lines:  bufio.NewScanner(stdout),
		logger: logger,
	}
	e.lines.Buffer(make([]byte, 0, 64*1024), 1<<20)

	if err := e.send("uci"); err != nil {
		return nil, err
	}
	if err := e.waitFor("uciok"); err != nil {
		return nil, err
	}
	if err := e.setOption("UCI_AnalyseMode", "true"); err != nil {
		return nil, err
	}
	return e, nil
}

// Close stops the engine process.
func (e *Engine) Close() error {
	_ = e.send("quit")
	_ = e.stdin.Close()
	return e.cmd.Wait()
}

func (e *Engine) send(command string) error {
	e.logger.Debug("engine <<", "command", command)
	_, err := io.WriteString(e.stdin, command+"\n")
	return err
}

func (e *Engine) recv() (string, error) {
	for e.lines.Scan() {
		line := strings.TrimSpace(e.lines.Text())
		if line == "" {
			continue
		}
		e.logger.Debug("engine >>", "line", line)
		return line, nil
	}
	if err := e.lines.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (e *Engine) waitFor(token string) error {
	for {
		line, err := e.recv()
		if err != nil {
			return err
		}
		if line == token || strings.HasPrefix(line, token+" ") {
			return nil
		}
	}
}

func (e *Engine) setOption(name, value string) error {
	return e.send(fmt.Sprintf("setoption name %s value %s", name, value))
}

func (e *Engine) isReady() error {
	if err := e.send("isready"); err != nil {
		return err
	}
	return e.waitFor("readyok")
}

// Analyse configures the engine for the job and starts the search. It
// returns a reader of forwardable output lines; the stream ends at bestmove
// or when ctx is cancelled (a "stop" is sent and the search drained).
func (e *Engine) Analyse(ctx context.Context, work AnalyseWork) (io.ReadCloser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if work.SessionID != e.sessionID {
		e.sessionID = work.SessionID
		if err := e.send("ucinewgame"); err != nil {
			return nil, err
		}
		if err := e.isReady(); err != nil {
			return nil, err
		}
	}
	if work.Threads != e.threads {
		if err := e.setOption("Threads", fmt.Sprint(work.Threads)); err != nil {
			return nil, err
		}
		e.threads = work.Threads
	}
	if work.Hash != e.hash {
		if err := e.setOption("Hash", fmt.Sprint(work.Hash)); err != nil {
			return nil, err
		}
		e.hash = work.Hash
	}
	if err := e.setOption("MultiPV", fmt.Sprint(work.MultiPv)); err != nil {
		return nil, err
	}
	if v := work.Variant.UciOption(); v != "" {
		if err := e.setOption("UCI_Variant", v); err != nil {
			return nil, err
		}
	}
	if err := e.isReady(); err != nil {
		return nil, err
	}

	if err := e.send(PositionCommand(work.InitialFen, work.Moves)); err != nil {
		return nil, err
	}
	if err := e.send(GoCommand(work.Depth, work.Infinite)); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go e.stream(ctx, pw)
	return pr, nil
}

// stream forwards score-bearing lines into the pipe until bestmove, pipe
// closure, or cancellation. It holds the engine lock for its whole run so a
// following Analyse cannot interleave with the drain of this search.
func (e *Engine) stream(ctx context.Context, pw *io.PipeWriter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	stopped := false
	for {
		select {
		case <-ctx.Done():
			if !stopped {
				_ = e.send("stop")
				stopped = true
			}
		default:
		}

		line, err := e.recv()
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if strings.HasPrefix(line, "bestmove") {
			pw.Close()
			return
		}
		if !ShouldForward(line) {
			continue
		}
		if _, err := pw.Write([]byte(line + "\n")); err != nil {
			// Upload side is gone; stop the search and drain to bestmove
			// so the engine is clean for the next job.
			if !stopped {
				_ = e.send("stop")
				stopped = true
			}
		}
	}
}

// PositionCommand builds the UCI position command for a job.
func PositionCommand(fen string, moves []string) string {
	var b strings.Builder
	b.WriteString("position fen ")
	b.WriteString(fen)
	if len(moves) > 0 {
		b.WriteString(" moves ")
		b.WriteString(strings.Join(moves, " "))
	}
	return b.String()
}

// GoCommand builds the UCI go command for a job.
func GoCommand(depth int, infinite bool) string {
	if infinite {
		return "go infinite"
	}
	return fmt.Sprintf("go depth %d", depth)
}

// ShouldForward reports whether an engine output line carries a score worth
// relaying. Mirrors the reference provider, which only uploads lines with
// evaluations.
func ShouldForward(line string) bool {
	parsed, err := uci.ParseLine(line)
	return err == nil && parsed.Info != nil && parsed.Info.Score != nil
}

// AnalyseWork is a job's work as seen by the provider: the client's work
// plus the engine id it was routed by.
type AnalyseWork struct {
	model.Work
	EngineID model.EngineID `json:"engineId"`
}
