// Command voxtrigger-selfcheck reports whether this host can load and run
// the speech model, and optionally transcribes a WAV file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/MrWong99/voxtrigger/internal/selfcheck"
	"github.com/MrWong99/voxtrigger/pkg/provider/stt"
	"github.com/MrWong99/voxtrigger/pkg/provider/stt/whisper"
)

func main() {
	os.Exit(run())
}

func run() int {
	model := flag.String("model", "tiny.en", "whisper model name or path to a ggml model file")
	modelDir := flag.String("model-dir", "models", "directory holding downloaded models")
	compute := flag.String("compute", string(stt.PrecisionFloat16), "precision for the accelerated attempt")
	lang := flag.String("lang", "en", "language hint")
	threads := flag.Int("cpu-threads", 4, "CPU threads for decoding")
	wav := flag.String("wav", "", "optional WAV file to transcribe")
	prefetch := flag.Bool("prefetch-model", false, "download the model before checking")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	prec := stt.Precision(*compute)
	if !prec.IsValid() {
		fmt.Fprintf(os.Stderr, "voxtrigger-selfcheck: unknown precision %q\n", *compute)
		return 2
	}

	ctx := context.Background()
	engine := whisper.New()
	if *prefetch {
		for _, p := range []stt.Precision{prec, stt.PrecisionFloat32} {
			err := engine.Prefetch(ctx, stt.LoadConfig{ModelID: *model, ModelDir: *modelDir, Precision: p})
			if err != nil {
				fmt.Fprintf(os.Stderr, "voxtrigger-selfcheck: prefetch %s: %v\n", p, err)
			}
		}
	}

	rep := selfcheck.Run(ctx, selfcheck.Options{
		Engine:    engine,
		Model:     *model,
		ModelDir:  *modelDir,
		Precision: prec,
		Threads:   *threads,
		Language:  *lang,
		WAV:       *wav,
	})
	rep.Print(os.Stdout)
	return rep.Code
}
