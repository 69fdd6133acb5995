package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"

	"github.com/voxlock/voxlock-core/internal/config"
)

// execExtractor shells out to an external embedding command. The command
// receives a 16-bit WAV file and must print JSON {"embedding": [...]} on
// stdout.
type execExtractor struct {
	cmd []string
	cfg config.OracleConfig
	mu  sync.Mutex
}

type execResult struct {
	Embedding []float32 `json:"embedding"`
}

func newExecExtractor(cfg config.OracleConfig) (Extractor, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse oracle command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("oracle command is empty")
	}
	return &execExtractor{cmd: args, cfg: cfg}, nil
}

func (e *execExtractor) Extract(ctx context.Context, samples []float32, sampleRate int) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "voxlock_oracle_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writeWaveformToWav(file, samples, sampleRate); err != nil {
		return nil, err
	}

	args := append([]string{}, e.cmd...)
	base := args[0]
	cmdArgs := args[1:]
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if e.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", e.cfg.ModelPath)
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("oracle command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode oracle response: %w", err)
	}
	return resp.Embedding, nil
}

func writeWaveformToWav(file *os.File, samples []float32, sampleRate int) error {
	buffer := &goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate}}
	data := make([]int, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		data[i] = int(s * 32767)
	}
	buffer.Data = data

	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
