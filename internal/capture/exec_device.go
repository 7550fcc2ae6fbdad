package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/voxloop/voxloop/internal/config"
)

// ExecDevice captures audio by spawning a command that writes little-endian
// float32 PCM to stdout, e.g. a thin wrapper around arecord or sox.
type ExecDevice struct {
	cmd []string
}

func NewExecDevice(command string) (*ExecDevice, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	return &ExecDevice{cmd: args}, nil
}

func (d *ExecDevice) Open(ctx context.Context, cfg config.CaptureConfig) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	base := d.cmd[0]
	args := append([]string{}, d.cmd[1:]...)
	args = append(args,
		"--rate", fmt.Sprintf("%d", cfg.SampleRate),
		"--channels", fmt.Sprintf("%d", cfg.Channels),
	)
	cmd := exec.CommandContext(ctx, base, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, &DeviceError{Reason: "capture command stdout", Err: err}
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &DeviceError{Reason: "capture command failed to start", Err: err}
	}

	s := &execStream{
		blocks: make(chan []float32, 16),
		cancel: cancel,
		cmd:    cmd,
	}
	s.wg.Add(1)
	go s.read(stdout, cfg.BlockSize)
	return s, nil
}

type execStream struct {
	blocks    chan []float32
	cancel    context.CancelFunc
	cmd       *exec.Cmd
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func (s *execStream) Blocks() <-chan []float32 { return s.blocks }

func (s *execStream) read(stdout io.Reader, blockSize int) {
	defer s.wg.Done()
	defer close(s.blocks)

	raw := make([]byte, blockSize*4)
	for {
		if _, err := io.ReadFull(stdout, raw); err != nil {
			return
		}
		block := make([]float32, blockSize)
		for i := range block {
			bits := binary.LittleEndian.Uint32(raw[i*4:])
			block[i] = math.Float32frombits(bits)
		}
		s.blocks <- block
	}
}

func (s *execStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		_ = s.cmd.Wait()
	})
	return nil
}
