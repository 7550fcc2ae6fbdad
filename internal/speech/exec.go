package speech

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execSynth struct {
	cmd []string
	mu  sync.Mutex
}

type execSynthRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice"`
	Rate       float64 `json:"rate"`
	Volume     float64 `json:"volume"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
}

type execSynthResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

// NewExecSynth synthesizes by piping a JSON request into an external
// command and reading newline-delimited JSON chunks from its stdout.
func NewExecSynth(command string) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse speech command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("speech command is empty")
	}
	return &execSynth{cmd: args}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan Chunk, <-chan error) {
	e.mu.Lock()
	chunks := make(chan Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		defer e.mu.Unlock()

		payload := execSynthRequest{
			Text:       req.Text,
			Voice:      req.VoiceID,
			Rate:       req.Rate,
			Volume:     req.Volume,
			SampleRate: req.SampleRate,
			Channels:   req.Channels,
		}
		data, err := json.Marshal(payload)
		if err != nil {
			errs <- err
			return
		}

		cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			errs <- err
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			errs <- err
			return
		}
		if err := cmd.Start(); err != nil {
			errs <- err
			return
		}

		if _, err := stdin.Write(data); err != nil {
			errs <- err
			_ = cmd.Wait()
			return
		}
		stdin.Close()

		scanner := bufio.NewScanner(stdout)
		sequence := 0
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var resp execSynthResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				errs <- err
				_ = cmd.Wait()
				return
			}
			pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
			if err != nil {
				errs <- err
				_ = cmd.Wait()
				return
			}
			select {
			case chunks <- Chunk{
				Sequence:   sequence,
				SampleRate: req.SampleRate,
				Channels:   req.Channels,
				PCM:        pcm,
				Final:      resp.Final,
			}:
			case <-ctx.Done():
				errs <- ctx.Err()
				_ = cmd.Wait()
				return
			}
			sequence++
		}
		if err := cmd.Wait(); err != nil {
			errs <- err
			return
		}
		if scanErr := scanner.Err(); scanErr != nil {
			errs <- scanErr
		}
	}()
	return chunks, errs
}

// ExecSink plays PCM by writing it to an external player's stdin, one
// process per utterance.
type ExecSink struct {
	cmd []string

	mu      sync.Mutex
	current *exec.Cmd
	stdin   interface {
		Write([]byte) (int, error)
		Close() error
	}
}

func NewExecSink(command string) (*ExecSink, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse sink command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("sink command is empty")
	}
	return &ExecSink{cmd: args}, nil
}

func (s *ExecSink) Play(ctx context.Context, chunk Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		cmd := exec.CommandContext(ctx, s.cmd[0], s.cmd[1:]...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("sink stdin: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start sink: %w", err)
		}
		s.current = cmd
		s.stdin = stdin
	}

	if _, err := s.stdin.Write(chunk.PCM); err != nil {
		return fmt.Errorf("write pcm: %w", err)
	}
	if chunk.Final {
		_ = s.stdin.Close()
		err := s.current.Wait()
		s.current = nil
		s.stdin = nil
		if err != nil {
			return fmt.Errorf("sink exited: %w", err)
		}
	}
	return nil
}

func (s *ExecSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	_ = s.stdin.Close()
	err := s.current.Process.Kill()
	s.current = nil
	s.stdin = nil
	return err
}

// StaticCatalog returns a fixed voice list; used with exec synthesizers
// whose voices are known up front.
type StaticCatalog struct {
	voices []Voice
}

func NewStaticCatalog(voices []Voice) *StaticCatalog {
	return &StaticCatalog{voices: voices}
}

func (c *StaticCatalog) Voices(_ context.Context) ([]Voice, error) {
	return append([]Voice(nil), c.voices...), nil
}
