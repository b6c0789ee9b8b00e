package store

import (
	"errors"
	"os"

	"skillatlas/internal/fsutil"
)

// ErrNotAvailable reports a document that has not been written yet or
// cannot be decoded.
var ErrNotAvailable = errors.New("not available yet")

type Entry struct {
	ID     string `json:"id"`
	Repo   string `json:"repo"`
	Reason string `json:"reason,omitempty"`
}

// Report is rebuilt from scratch for every sweep.
type Report struct {
	Installed []Entry `json:"installed"`
	Skipped   []Entry `json:"skipped"`
	Failed    []Entry `json:"failed"`
}

func NewReport() *Report {
	return &Report{Installed: []Entry{}, Skipped: []Entry{}, Failed: []Entry{}}
}

func (r *Report) Total() int {
	return len(r.Installed) + len(r.Skipped) + len(r.Failed)
}

func SaveReport(path string, r *Report) error {
	return fsutil.WriteJSON(path, r)
}

func LoadReport(path string) (Report, error) {
	var r Report
	if err := fsutil.ReadJSON(path, &r); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Report{}, ErrNotAvailable
		}
		return Report{}, errors.Join(ErrNotAvailable, err)
	}
	return r, nil
}
