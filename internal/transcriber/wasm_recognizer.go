package transcriber

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/voxloop/voxloop/internal/config"
)

// wasmRecognizer hosts the transcription model as a WebAssembly module. The
// module is compiled and instantiated once at Load, which is where the slow
// model setup happens; Transcribe calls stay on the already-warm instance.
//
// Expected module exports:
//
//	alloc(size: u32) -> ptr: u32
//	transcribe(ptr: u32, samples: u32) -> packed: u64   // (text_ptr << 32) | text_len
type wasmRecognizer struct {
	cfg    config.TranscriberConfig
	mu     sync.Mutex
	rt     wazero.Runtime
	module api.Module
	alloc  api.Function
	entry  api.Function
}

func NewWASMRecognizer(cfg config.TranscriberConfig) Recognizer {
	return &wasmRecognizer{cfg: cfg}
}

func (r *wasmRecognizer) Load(ctx context.Context, progress func(string)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.module != nil {
		return nil
	}

	report := func(msg string) {
		if progress != nil {
			progress(msg)
		}
	}

	report("reading transcription module")
	wasmBytes, err := os.ReadFile(r.cfg.ModulePath)
	if err != nil {
		return fmt.Errorf("read wasm module: %w", err)
	}

	rt := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return fmt.Errorf("instantiate WASI: %w", err)
	}

	report("compiling transcription module")
	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = rt.Close(ctx)
		return fmt.Errorf("compile module: %w", err)
	}

	report("loading model weights")
	moduleConfig := wazero.NewModuleConfig()
	if r.cfg.ModelPath != "" {
		moduleConfig = moduleConfig.WithEnv("MODEL_PATH", r.cfg.ModelPath)
	}
	if r.cfg.Language != "" {
		moduleConfig = moduleConfig.WithEnv("LANGUAGE", r.cfg.Language)
	}
	module, err := rt.InstantiateModule(ctx, compiled, moduleConfig)
	if err != nil {
		_ = rt.Close(ctx)
		return fmt.Errorf("instantiate module: %w", err)
	}

	alloc := module.ExportedFunction("alloc")
	entry := module.ExportedFunction("transcribe")
	if alloc == nil || entry == nil {
		_ = rt.Close(ctx)
		return fmt.Errorf("module missing alloc/transcribe exports")
	}

	r.rt = rt
	r.module = module
	r.alloc = alloc
	r.entry = entry
	return nil
}

func (r *wasmRecognizer) Transcribe(ctx context.Context, samples []float32) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.module == nil {
		return "", fmt.Errorf("wasm recognizer not loaded")
	}

	byteLen := uint64(len(samples) * 4)
	results, err := r.alloc.Call(ctx, byteLen)
	if err != nil {
		return "", fmt.Errorf("alloc sample buffer: %w", err)
	}
	ptr := uint32(results[0])

	raw := make([]byte, byteLen)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	if !r.module.Memory().Write(ptr, raw) {
		return "", fmt.Errorf("write samples to module memory")
	}

	results, err = r.entry.Call(ctx, uint64(ptr), uint64(len(samples)))
	if err != nil {
		return "", fmt.Errorf("transcribe call: %w", err)
	}
	packed := results[0]
	textPtr := uint32(packed >> 32)
	textLen := uint32(packed)
	if textLen == 0 {
		return "", nil
	}
	data, ok := r.module.Memory().Read(textPtr, textLen)
	if !ok {
		return "", fmt.Errorf("read transcript from module memory (ptr=%d len=%d)", textPtr, textLen)
	}
	return string(data), nil
}

// Close releases the wazero runtime. Safe on a never-loaded recognizer.
func (r *wasmRecognizer) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rt == nil {
		return nil
	}
	err := r.rt.Close(ctx)
	r.rt = nil
	r.module = nil
	return err
}
