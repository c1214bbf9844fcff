package aggregate

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Manifest is the checksum sidecar written next to each daily aggregate.
// It describes the output for audit; completion checks never read it.
type Manifest struct {
	Output    string    `json:"output"`
	Files     int       `json:"files"`
	Rows      int       `json:"rows"`
	ByteSize  int64     `json:"byte_size"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}

func writeSidecar(outPath string, stats Stats) error {
	m := Manifest{
		Output:    outPath,
		Files:     stats.Files,
		Rows:      stats.Rows,
		ByteSize:  stats.ByteSize,
		Checksum:  stats.Checksum,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal aggregate manifest: %w", err)
	}

	return os.WriteFile(outPath+".manifest.json", data, 0644)
}
