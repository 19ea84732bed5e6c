// Package checkpoint persists crawl progress so an interrupted run can be
// resumed without re-downloading completed files.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sharecrawl/pkg/logger"
)

// Checkpoint represents the state of a crawl session
type Checkpoint struct {
	ShareURL        string            `json:"share_url"`
	Completed       map[string]string `json:"completed"` // relative path -> download strategy
	TotalDownloaded int               `json:"total_downloaded"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Version         int               `json:"version"`
}

// IsCompleted reports whether a file at the relative path finished in a
// previous session
func (cp *Checkpoint) IsCompleted(rel string) bool {
	_, ok := cp.Completed[rel]
	return ok
}

// MarkCompleted records a finished download
func (cp *Checkpoint) MarkCompleted(rel, strategy string) {
	if cp.Completed == nil {
		cp.Completed = make(map[string]string)
	}
	cp.Completed[rel] = strategy
	cp.TotalDownloaded = len(cp.Completed)
}

// Manager handles checkpoint operations
type Manager struct {
	checkpointPath string
	logger         logger.Logger
}

// NewManager creates a checkpoint manager keyed by the share URL
func NewManager(shareURL string) (*Manager, error) {
	dataDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	checkpointsDir := filepath.Join(dataDir, "sharecrawl", "checkpoints")
	if err := os.MkdirAll(checkpointsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}

	sum := sha256.Sum256([]byte(shareURL))
	name := hex.EncodeToString(sum[:8])
	checkpointPath := filepath.Join(checkpointsDir, fmt.Sprintf("%s.checkpoint.json", name))

	return &Manager{
		checkpointPath: checkpointPath,
		logger:         logger.GetLogger(),
	}, nil
}

// Create creates a new checkpoint for a share URL
func (m *Manager) Create(shareURL string) (*Checkpoint, error) {
	checkpoint := &Checkpoint{
		ShareURL:  shareURL,
		Completed: make(map[string]string),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Version:   1,
	}

	if err := m.Save(checkpoint); err != nil {
		return nil, fmt.Errorf("failed to save initial checkpoint: %w", err)
	}

	m.logger.InfoWithFields("Checkpoint created", map[string]interface{}{
		"share_url": shareURL,
		"path":      m.checkpointPath,
	})

	return checkpoint, nil
}

// Exists reports whether a checkpoint file is present
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.checkpointPath)
	return err == nil
}

// Load loads an existing checkpoint. Returns (nil, nil) when none exists.
func (m *Manager) Load() (*Checkpoint, error) {
	file, err := os.Open(m.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"share_url":        checkpoint.ShareURL,
		"total_downloaded": checkpoint.TotalDownloaded,
		"updated_at":       checkpoint.UpdatedAt,
	})

	return &checkpoint, nil
}

// Save saves the checkpoint to disk atomically
func (m *Manager) Save(checkpoint *Checkpoint) error {
	checkpoint.UpdatedAt = time.Now()

	tempPath := m.checkpointPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	err = encoder.Encode(checkpoint)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", closeErr)
	}

	if err := os.Rename(tempPath, m.checkpointPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}

	return nil
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	if err := os.Remove(m.checkpointPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Path returns the checkpoint file location
func (m *Manager) Path() string {
	return m.checkpointPath
}
