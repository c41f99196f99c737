package sandbox

import (
	"fmt"
	"math"
	"strconv"
)

// MaxSeconds bounds both limits.
const MaxSeconds = 7 * 24 * 60 * 60

// Constraints are the per-command limits passed on the launcher command line.
type Constraints struct {
	CPUSeconds  float64
	WallSeconds float64
}

func DefaultConstraints() Constraints {
	return Constraints{
		CPUSeconds:  10.0,
		WallSeconds: 20.0,
	}
}

// ToArgs renders the constraints as the launcher's leading positional arguments.
func (c Constraints) ToArgs() []string {
	return []string{
		formatSeconds(c.CPUSeconds),
		formatSeconds(c.WallSeconds),
	}
}

func (c Constraints) validate() error {
	if !validSeconds(c.CPUSeconds) {
		return fmt.Errorf("cpu limit must be positive and at most %d, got %v", MaxSeconds, c.CPUSeconds)
	}
	if !validSeconds(c.WallSeconds) {
		return fmt.Errorf("wall limit must be positive and at most %d, got %v", MaxSeconds, c.WallSeconds)
	}
	return nil
}

func validSeconds(v float64) bool {
	return v > 0 && v <= MaxSeconds && !math.IsNaN(v)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

func parseSeconds(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s seconds %q: %w", name, s, err)
	}
	if !validSeconds(v) {
		return 0, fmt.Errorf("%s seconds must be positive and at most %d, got %q", name, MaxSeconds, s)
	}
	return v, nil
}

// Rlimits are the fixed limits the launcher applies to every command in
// addition to the CPU limit from its command line.
type Rlimits struct {
	FileSizeBytes uint64
	OpenFiles     uint64
	Processes     uint64
	AddressSpace  uint64
	Niceness      int
}

func DefaultRlimits() Rlimits {
	return Rlimits{
		FileSizeBytes: 64 << 20,
		OpenFiles:     64,
		Processes:     64,
		AddressSpace:  1 << 30,
		Niceness:      19,
	}
}

// cpuRlimit rounds a fractional CPU limit up to whole seconds, the
// granularity of RLIMIT_CPU.
func cpuRlimit(seconds float64) uint64 {
	return uint64(math.Ceil(seconds))
}
