package syncq

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"colonywars/internal/ledger"
)

// Command is a mutation that could not reach the API and waits for
// `cw sync`.
type Command struct {
	Method   string         `json:"method"`
	Path     string         `json:"path"`
	Body     map[string]any `json:"body,omitempty"`
	Caller   ledger.Address `json:"caller"`
	QueuedAt time.Time      `json:"queued_at"`
}

func queuePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".cwars")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Command, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func Save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	if commands == nil {
		commands = []Command{}
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func Push(cmd Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	if cmd.QueuedAt.IsZero() {
		cmd.QueuedAt = time.Now().UTC()
	}
	commands = append(commands, cmd)
	return Save(commands)
}

// Replay sends queued commands in order through send. It stops at the first
// failure and keeps that command and everything after it queued.
func Replay(commands []Command, send func(Command) error) (sent int, remaining []Command, err error) {
	for i, cmd := range commands {
		if err := send(cmd); err != nil {
			return i, commands[i:], err
		}
	}
	return len(commands), nil, nil
}
