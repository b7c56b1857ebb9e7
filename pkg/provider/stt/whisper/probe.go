package whisper

import (
	"os"
	"strings"

	"github.com/spf13/afero"
)

// acceleratorNodes are device nodes created by the NVIDIA desktop driver and
// by the Jetson (Tegra) integrated GPU driver.
var acceleratorNodes = []string{
	"/dev/nvidia0",
	"/dev/nvidiactl",
	"/dev/nvhost-ctrl-gpu",
	"/dev/nvgpu/igpu0/ctrl",
}

// AcceleratorAvailable reports whether a CUDA-capable device appears usable.
// CUDA_VISIBLE_DEVICES set to empty or -1 hides all devices.
func AcceleratorAvailable(fs afero.Fs) bool {
	if v, ok := os.LookupEnv("CUDA_VISIBLE_DEVICES"); ok {
		if v = strings.TrimSpace(v); v == "" || v == "-1" {
			return false
		}
	}
	return len(AcceleratorNodes(fs)) > 0
}

// AcceleratorNodes lists the accelerator device nodes present on fs.
func AcceleratorNodes(fs afero.Fs) []string {
	var found []string
	for _, n := range acceleratorNodes {
		if ok, _ := afero.Exists(fs, n); ok {
			found = append(found, n)
		}
	}
	return found
}

// TegraRelease returns the first line of /etc/nv_tegra_release, or "" on
// non-Jetson hosts.
func TegraRelease(fs afero.Fs) string {
	b, err := afero.ReadFile(fs, "/etc/nv_tegra_release")
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(string(b), "\n")
	return strings.TrimSpace(line)
}
