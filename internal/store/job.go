package store

import (
	"math"
	"time"

	"skillatlas/internal/fsutil"
)

// Job identifies a launched sweep process. It is written once at launch.
type Job struct {
	PID       int      `json:"pid"`
	StartedAt float64  `json:"startedAt"`
	Command   []string `json:"cmd"`
	Log       string   `json:"log"`
	Report    string   `json:"report"`
}

func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func (j Job) Started() time.Time {
	sec, frac := math.Modf(j.StartedAt)
	return time.Unix(int64(sec), int64(frac*1e9))
}

func SaveJob(path string, j Job) error {
	return fsutil.WriteJSON(path, j)
}

// LoadJob returns the persisted job, or false when none is readable.
func LoadJob(path string) (Job, bool) {
	var j Job
	if err := fsutil.ReadJSON(path, &j); err != nil || j.PID <= 0 {
		return Job{}, false
	}
	return j, true
}
