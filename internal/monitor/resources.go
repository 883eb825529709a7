package monitor

import (
	"os"

	"github.com/shirou/gopsutil/v4/process"
)

// processUsage reports the current process RSS in MB and CPU percent since
// the previous call.
func processUsage() (memMB, cpuPct float64, err error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, 0, err
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpu, err := proc.Percent(0)
	if err != nil {
		return 0, 0, err
	}
	return float64(mem.RSS) / (1024 * 1024), cpu, nil
}
