// Package storage keeps a history of runs, one directory per run id holding
// metadata.json, and reads back the CSV series writers leave next to the
// output.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/stepsim/internal/sim"
)

const metadataFile = "metadata.json"

var ErrNoID = errors.New("storage: run record has no id")

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0o755)
}

type RunRecord struct {
	ID          string    `json:"id"`
	Model       string    `json:"model"`
	Integrator  string    `json:"integrator"`
	Backend     string    `json:"backend"`
	Timestamp   time.Time `json:"timestamp"`
	Dt          float64   `json:"dt"`
	Restart     bool      `json:"restart"`
	InitialStep int       `json:"initial_step"`
	FinalStep   int       `json:"final_step"`
	TargetStep  int       `json:"target_step"`
	Reason      string    `json:"reason"`
	Message     string    `json:"message"`
	Checkpoints int       `json:"checkpoints"`
	WallTime    float64   `json:"wall_time_s"`
	RMSD        float64   `json:"rmsd"`
	Output      string    `json:"output"`

	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// FromReport fills a record with the outcome of a run.
func FromReport(r *sim.Report) RunRecord {
	return RunRecord{
		ID:          r.RunID,
		Backend:     r.Backend,
		Timestamp:   r.Started,
		InitialStep: r.InitialStep,
		FinalStep:   r.FinalStep,
		TargetStep:  r.TargetStep,
		Reason:      r.Reason.String(),
		Message:     r.Message,
		Checkpoints: r.Checkpoints,
		WallTime:    r.WallTime.Seconds(),
		RMSD:        r.RMSD,
		Output:      r.OutputPath,
	}
}

func (s *Store) Save(rec RunRecord) error {
	if rec.ID == "" {
		return ErrNoID
	}
	runDir := filepath.Join(s.baseDir, rec.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(runDir, metadataFile))
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return err
	}
	return f.Close()
}

// List returns every readable record, oldest first. Directories without a
// valid metadata file are skipped.
func (s *Store) List() ([]RunRecord, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunRecord{}, nil
		}
		return nil, err
	}

	runs := make([]RunRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *rec)
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(id string) (*RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, id, metadataFile))
	if err != nil {
		return nil, err
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("storage: decode %s: %w", id, err)
	}
	return &rec, nil
}

// Series is a CSV file read column-wise.
type Series struct {
	Header  []string
	Columns [][]float64
}

// Column returns the values under name, or nil if there is no such column.
func (s *Series) Column(name string) []float64 {
	for i, h := range s.Header {
		if h == name {
			return s.Columns[i]
		}
	}
	return nil
}

// LoadSeries reads a CSV file with a header row. Cells that do not parse
// are skipped.
func LoadSeries(path string) (*Series, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &Series{}, nil
	}

	series := &Series{
		Header:  records[0],
		Columns: make([][]float64, len(records[0])),
	}
	for _, record := range records[1:] {
		for j := 0; j < len(record) && j < len(series.Header); j++ {
			val, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				continue
			}
			series.Columns[j] = append(series.Columns[j], val)
		}
	}
	return series, nil
}
