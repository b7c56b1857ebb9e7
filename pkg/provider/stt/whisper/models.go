package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/voxtrigger/pkg/provider/stt"
)

// DefaultBaseURL hosts the upstream ggml model files.
const DefaultBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// QuantSuffix maps a precision to the ggml quantisation suffix. Float
// precisions use the unquantised (f16) file.
func QuantSuffix(p stt.Precision) string {
	switch p {
	case stt.PrecisionInt8:
		return "-q8_0"
	case stt.PrecisionInt5:
		return "-q5_1"
	default:
		return ""
	}
}

// FileName returns the ggml file name for a model and precision,
// e.g. "ggml-tiny.en-q8_0.bin".
func FileName(model string, p stt.Precision) string {
	return "ggml-" + model + QuantSuffix(p) + ".bin"
}

// IsPath reports whether modelID names a file rather than a model.
func IsPath(modelID string) bool {
	return strings.HasSuffix(modelID, ".bin") || strings.ContainsRune(modelID, filepath.Separator)
}

// ResolvePath returns the model file for modelID.
func ResolvePath(dir, modelID string, p stt.Precision) string {
	if IsPath(modelID) {
		return modelID
	}
	return filepath.Join(dir, FileName(modelID, p))
}

// Prefetch downloads the model file into cfg.ModelDir if it is missing. The
// download is written to a temporary file and renamed into place, so an
// interrupted fetch never leaves a truncated model behind.
func (e *Engine) Prefetch(ctx context.Context, cfg stt.LoadConfig) error {
	path := ResolvePath(cfg.ModelDir, cfg.ModelID, cfg.Precision)
	if ok, err := afero.Exists(e.fs, path); err != nil {
		return fmt.Errorf("whisper: stat %s: %w", path, err)
	} else if ok {
		slog.Debug("whisper model already present", "path", path)
		return nil
	}
	if IsPath(cfg.ModelID) {
		return fmt.Errorf("whisper: model file %s does not exist", path)
	}

	if err := e.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("whisper: create model dir: %w", err)
	}

	url := strings.TrimRight(e.baseURL, "/") + "/" + filepath.Base(path)
	slog.Info("downloading whisper model", "url", url, "dest", path)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("whisper: create request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("whisper: download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("whisper: download %s: HTTP %d", url, resp.StatusCode)
	}

	tmp := path + ".part"
	f, err := e.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("whisper: create %s: %w", tmp, err)
	}
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = e.fs.Remove(tmp)
		return fmt.Errorf("whisper: write %s: %w", tmp, err)
	}
	if err := e.fs.Rename(tmp, path); err != nil {
		_ = e.fs.Remove(tmp)
		return fmt.Errorf("whisper: rename %s: %w", tmp, err)
	}

	slog.Info("whisper model downloaded",
		"dest", path,
		"bytes", n,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return nil
}
