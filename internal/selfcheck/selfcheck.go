// Package selfcheck verifies that a host can run voxtrigger: it reports the
// platform, tries to load the model on the accelerator and on the CPU, and
// optionally transcribes a WAV file on whichever device worked.
package selfcheck

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/voxtrigger/pkg/audio"
	"github.com/MrWong99/voxtrigger/pkg/audio/wavfile"
	"github.com/MrWong99/voxtrigger/pkg/provider/stt"
	"github.com/MrWong99/voxtrigger/pkg/provider/stt/whisper"
)

// Exit codes returned in [Report.Code].
const (
	CodeOK                  = 0
	CodeTranscriptionFailed = 1
	CodeCPUFailed           = 4
	CodeWAVMissing          = 5
)

// Options configures a self-check run.
type Options struct {
	// Engine loads models. Required.
	Engine stt.Engine

	// Fs is used for platform probing and the WAV file. Defaults to the OS
	// filesystem.
	Fs afero.Fs

	Model    string
	ModelDir string

	// Precision is used for the accelerated attempt. The CPU attempt always
	// uses float32.
	Precision stt.Precision

	Threads  int
	Language string

	// WAV, if set, is transcribed after the model checks.
	WAV string
}

// Step is one line of the report.
type Step struct {
	Name   string
	OK     bool
	Detail string
}

// Report is the outcome of [Run].
type Report struct {
	OS, Arch         string
	TegraRelease     string
	AcceleratorNodes []string

	Steps []Step

	// Device and Precision are what the transcription test ran on.
	Device    stt.Device
	Precision stt.Precision

	Transcript string
	Code       int
}

func (r *Report) step(name string, err error, detail string) {
	s := Step{Name: name, OK: err == nil, Detail: detail}
	if err != nil {
		s.Detail = err.Error()
	}
	r.Steps = append(r.Steps, s)
}

// Run performs the checks in order and stops at the first fatal failure.
func Run(ctx context.Context, opts Options) Report {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Precision == "" {
		opts.Precision = stt.PrecisionFloat16
	}
	rep := Report{
		OS:               runtime.GOOS,
		Arch:             runtime.GOARCH,
		TegraRelease:     whisper.TegraRelease(opts.Fs),
		AcceleratorNodes: whisper.AcceleratorNodes(opts.Fs),
	}

	load := func(dev stt.Device, prec stt.Precision) (stt.Model, error) {
		return opts.Engine.Load(ctx, stt.LoadConfig{
			ModelID:   opts.Model,
			ModelDir:  opts.ModelDir,
			Device:    dev,
			Precision: prec,
			Threads:   opts.Threads,
			Language:  opts.Language,
		})
	}

	accel, err := load(stt.DeviceAccelerated, opts.Precision)
	rep.step("accelerated init", err, fmt.Sprintf("model=%s compute=%s", opts.Model, opts.Precision))
	if accel != nil {
		defer accel.Close()
	}

	cpu, err := load(stt.DeviceCPU, stt.PrecisionFloat32)
	rep.step("cpu init", err, fmt.Sprintf("model=%s compute=%s", opts.Model, stt.PrecisionFloat32))
	if err != nil {
		rep.Code = CodeCPUFailed
		return rep
	}
	defer cpu.Close()

	if opts.WAV == "" {
		return rep
	}
	if _, err := opts.Fs.Stat(opts.WAV); err != nil {
		rep.step("wav", err, "")
		rep.Code = CodeWAVMissing
		return rep
	}

	model := cpu
	rep.Device, rep.Precision = stt.DeviceCPU, stt.PrecisionFloat32
	if accel != nil {
		model = accel
		rep.Device, rep.Precision = stt.DeviceAccelerated, opts.Precision
	}

	pcm, err := wavfile.Load(opts.Fs, opts.WAV, audio.DefaultSampleRate)
	if err != nil {
		rep.step("transcription", err, "")
		rep.Code = CodeTranscriptionFailed
		return rep
	}
	start := time.Now()
	tr, err := model.Transcribe(ctx, audio.PCMToFloat32(pcm), stt.Options{Language: opts.Language})
	if err != nil {
		rep.step("transcription", err, "")
		rep.Code = CodeTranscriptionFailed
		return rep
	}
	rep.Transcript = tr.Text
	rep.step("transcription", nil, fmt.Sprintf("device=%s took=%s", rep.Device, time.Since(start).Round(time.Millisecond)))
	return rep
}

// Print writes the report in a human-readable form.
func (r Report) Print(w io.Writer) {
	fmt.Fprintln(w, "=== System ===")
	fmt.Fprintf(w, "Platform: %s/%s\n", r.OS, r.Arch)
	if host, err := os.Hostname(); err == nil {
		fmt.Fprintf(w, "Host: %s\n", host)
	}
	fmt.Fprintf(w, "Jetson release: %s\n", orNone(r.TegraRelease))
	fmt.Fprintf(w, "Accelerator nodes: %s\n", orNone(strings.Join(r.AcceleratorNodes, ", ")))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Checks ===")
	for _, s := range r.Steps {
		status := "OK"
		if !s.OK {
			status = "FAILED"
		}
		fmt.Fprintf(w, "%-18s %-6s %s\n", s.Name, status, s.Detail)
	}
	if r.Device != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Transcription ===")
		fmt.Fprintf(w, "Using device=%s compute=%s\n", r.Device, r.Precision)
		fmt.Fprintf(w, "Text: %s\n", orNone(r.Transcript))
	}
	fmt.Fprintln(w)
	if r.Code == CodeOK {
		fmt.Fprintln(w, "Self-check complete.")
	} else {
		fmt.Fprintf(w, "Self-check failed (exit %d).\n", r.Code)
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
