package separator

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/stemforge/pkg/logger"
)

// Device selects where the separation engine runs.
type Device string

const (
	DeviceCUDA Device = "cuda"
	DeviceCPU  Device = "cpu"
)

const gib = 1024 * 1024 * 1024

// DetectDevice probes the accelerator and system RAM and returns the device
// plus the engine parallelism to use. Larger headroom earns a bigger `-j`;
// CPU-only hosts stay conservative.
func DetectDevice(ctx context.Context, forceCPU bool) (Device, int) {
	if forceCPU {
		return DeviceCPU, cpuWorkers()
	}

	vramGiB, err := accelMemoryGiB(ctx)
	if err != nil || vramGiB <= 0 {
		logger.Infof("🖥️ No accelerator detected, using CPU")
		return DeviceCPU, cpuWorkers()
	}

	ramGiB := systemRAMGiB()

	var workers int
	switch {
	case vramGiB >= 70 && ramGiB >= 200:
		workers = 16
	case vramGiB >= 70:
		workers = 12
	case vramGiB >= 40:
		workers = 8
	case vramGiB >= 20:
		workers = 4
	default:
		workers = 2
	}

	logger.Infof("🖥️ Accelerator: %.0f GiB VRAM, %.0f GiB RAM → %d engine workers", vramGiB, ramGiB, workers)
	return DeviceCUDA, workers
}

// accelMemoryGiB queries total accelerator memory via nvidia-smi.
func accelMemoryGiB(ctx context.Context) (float64, error) {
	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=memory.total",
		"--format=csv,noheader,nounits",
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, err
	}

	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	mib, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, err
	}
	return mib / 1024, nil
}

func systemRAMGiB() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return float64(vm.Total) / gib
}

// cpuWorkers sizes the CPU fallback tier.
func cpuWorkers() int {
	w := runtime.NumCPU() / 6
	if w > 3 {
		w = 3
	}
	if w < 1 {
		w = 1
	}
	return w
}

// editPoolSize bounds the edit-generation fan-out after a chunk: scaled to the
// engine parallelism and core count.
func editPoolSize(engineWorkers int) int {
	n := engineWorkers / 2
	if cores := runtime.NumCPU() / 2; cores < n {
		n = cores
	}
	if n > 8 {
		n = 8
	}
	if n < 2 {
		n = 2
	}
	return n
}
