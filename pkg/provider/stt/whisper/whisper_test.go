package whisper_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/voxtrigger/pkg/provider/stt"
	"github.com/MrWong99/voxtrigger/pkg/provider/stt/whisper"
)

// testModelPath returns the path to a whisper model for integration tests.
// It reads from the WHISPER_MODEL_PATH environment variable. If unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestResolvePath(t *testing.T) {
	tests := []struct {
		model     string
		precision stt.Precision
		want      string
	}{
		{"tiny.en", stt.PrecisionInt8, "/models/ggml-tiny.en-q8_0.bin"},
		{"tiny.en", stt.PrecisionInt5, "/models/ggml-tiny.en-q5_1.bin"},
		{"base", stt.PrecisionFloat16, "/models/ggml-base.bin"},
		{"base", stt.PrecisionFloat32, "/models/ggml-base.bin"},
		{"/opt/custom.bin", stt.PrecisionInt8, "/opt/custom.bin"},
		{"custom.bin", stt.PrecisionInt8, "custom.bin"},
	}
	for _, tt := range tests {
		t.Run(tt.model+"/"+string(tt.precision), func(t *testing.T) {
			if got := whisper.ResolvePath("/models", tt.model, tt.precision); got != tt.want {
				t.Errorf("ResolvePath = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoad_MissingModel(t *testing.T) {
	e := whisper.New(whisper.WithFs(afero.NewMemMapFs()), whisper.WithProbe(func() bool { return true }))
	_, err := e.Load(context.Background(), stt.LoadConfig{
		ModelID: "tiny.en", ModelDir: "/models", Device: stt.DeviceAccelerated, Precision: stt.PrecisionInt8,
	})
	if err == nil {
		t.Fatal("expected error for missing model")
	}
	if errors.Is(err, stt.ErrDeviceUnavailable) {
		t.Error("a missing model file must not be reported as a device failure")
	}
}

func TestLoad_NoAccelerator(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/models/ggml-tiny.en-q8_0.bin", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := whisper.New(whisper.WithFs(fs), whisper.WithProbe(func() bool { return false }))
	_, err := e.Load(context.Background(), stt.LoadConfig{
		ModelID: "tiny.en", ModelDir: "/models", Device: stt.DeviceAccelerated, Precision: stt.PrecisionInt8,
	})
	if !errors.Is(err, stt.ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
}

func TestPrefetch_DownloadsMissingModel(t *testing.T) {
	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		_, _ = w.Write([]byte("ggml-weights"))
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	e := whisper.New(whisper.WithFs(fs), whisper.WithBaseURL(srv.URL), whisper.WithHTTPClient(srv.Client()))
	cfg := stt.LoadConfig{ModelID: "tiny.en", ModelDir: "/models", Precision: stt.PrecisionInt5}
	if err := e.Prefetch(context.Background(), cfg); err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	if requested != "/ggml-tiny.en-q5_1.bin" {
		t.Errorf("requested %q", requested)
	}
	got, err := afero.ReadFile(fs, "/models/ggml-tiny.en-q5_1.bin")
	if err != nil {
		t.Fatalf("read model: %v", err)
	}
	if string(got) != "ggml-weights" {
		t.Errorf("content = %q", got)
	}
	if ok, _ := afero.Exists(fs, "/models/ggml-tiny.en-q5_1.bin.part"); ok {
		t.Error("temporary file left behind")
	}
}

func TestPrefetch_SkipsExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected download")
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/models/ggml-base.bin", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := whisper.New(whisper.WithFs(fs), whisper.WithBaseURL(srv.URL))
	if err := e.Prefetch(context.Background(), stt.LoadConfig{ModelID: "base", ModelDir: "/models", Precision: stt.PrecisionFloat32}); err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
}

func TestPrefetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	e := whisper.New(whisper.WithFs(fs), whisper.WithBaseURL(srv.URL), whisper.WithHTTPClient(srv.Client()))
	err := e.Prefetch(context.Background(), stt.LoadConfig{ModelID: "nope", ModelDir: "/models"})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v, want HTTP 404", err)
	}
	if ok, _ := afero.Exists(fs, "/models/ggml-nope.bin"); ok {
		t.Error("model file created despite failed download")
	}
}

func TestAcceleratorAvailable(t *testing.T) {
	fs := afero.NewMemMapFs()
	t.Setenv("CUDA_VISIBLE_DEVICES", "0")
	if whisper.AcceleratorAvailable(fs) {
		t.Fatal("no device nodes, want false")
	}
	if err := afero.WriteFile(fs, "/dev/nvhost-ctrl-gpu", nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if !whisper.AcceleratorAvailable(fs) {
		t.Fatal("tegra node present, want true")
	}
	t.Setenv("CUDA_VISIBLE_DEVICES", "")
	if whisper.AcceleratorAvailable(fs) {
		t.Fatal("CUDA_VISIBLE_DEVICES empty, want false")
	}
}

func TestTegraRelease(t *testing.T) {
	fs := afero.NewMemMapFs()
	if got := whisper.TegraRelease(fs); got != "" {
		t.Errorf("TegraRelease = %q, want empty", got)
	}
	_ = afero.WriteFile(fs, "/etc/nv_tegra_release", []byte("# R36 (release), REVISION: 3.0\nmore\n"), 0o644)
	if got := whisper.TegraRelease(fs); got != "# R36 (release), REVISION: 3.0" {
		t.Errorf("TegraRelease = %q", got)
	}
}

func TestTranscribe_SilenceOnCPU(t *testing.T) {
	path := testModelPath(t)
	e := whisper.New()
	m, err := e.Load(context.Background(), stt.LoadConfig{ModelID: path, Device: stt.DeviceCPU, Threads: 2, Language: "en"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer m.Close()

	tr, err := m.Transcribe(context.Background(), make([]float32, 16000), stt.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Device != stt.DeviceCPU {
		t.Errorf("Device = %q, want cpu", tr.Device)
	}
	if tr.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", tr.Duration)
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	path := testModelPath(t)
	m, err := whisper.New().Load(context.Background(), stt.LoadConfig{ModelID: path, Device: stt.DeviceCPU})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Transcribe(ctx, make([]float32, 16000), stt.Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
