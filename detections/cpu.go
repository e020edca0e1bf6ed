package detections

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// CPUFeatures describes the host vector extensions relevant to the CPU
// execution provider. Reported at startup and on /metrics.
type CPUFeatures struct {
	Arch   string `json:"arch"`
	NumCPU int    `json:"num_cpu"`
	AVX512 bool   `json:"avx512"`
	AVX2   bool   `json:"avx2"`
	SSE41  bool   `json:"sse41"`
	ASIMD  bool   `json:"asimd"`
	FMA    bool   `json:"fma"`
}

func DetectCPUFeatures() CPUFeatures {
	return CPUFeatures{
		Arch:   runtime.GOARCH,
		NumCPU: runtime.NumCPU(),
		AVX512: cpu.X86.HasAVX512F,
		AVX2:   cpu.X86.HasAVX2,
		SSE41:  cpu.X86.HasSSE41,
		ASIMD:  cpu.ARM64.HasASIMD,
		FMA:    cpu.X86.HasFMA,
	}
}

// IntraOpThreads is the thread count handed to the CPU provider. Hosts
// without a SIMD extension get half the cores.
func (f CPUFeatures) IntraOpThreads() int {
	if f.NumCPU <= 1 {
		return 1
	}
	if f.AVX2 || f.AVX512 || f.ASIMD {
		return f.NumCPU
	}
	return f.NumCPU / 2
}
