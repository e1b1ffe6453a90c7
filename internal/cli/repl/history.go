// Package repl provides the interactive REPL mode for fabrictl.
package repl

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"

	"github.com/relaymesh/fabric/internal/telemetry/logger"
)

const historyRedactedValue = "***REDACTED***"

// flagWithValue matches a long flag and its value, either
// --flag=value or --flag value, so a typed --bearer-token can be
// found regardless of which form the user used.
var flagWithValue = regexp.MustCompile(`--([a-zA-Z][a-zA-Z0-9-]*)(=|\s+)(\S+)`)

// History manages command history for the REPL. Load and Save read and
// write it as plain text at $HOME/.relaymesh/history; the REPL loop
// calls neither, so history lasts only for the session.
type History struct {
	entries []string
	maxSize int
	file    string
}

// NewHistory creates a new History instance.
func NewHistory() *History {
	homeDir, _ := os.UserHomeDir()
	return &History{
		entries: make([]string, 0),
		maxSize: 1000,
		file:    filepath.Join(homeDir, ".relaymesh", "history"),
	}
}

// Add appends cmd to history, redacting any flag value that looks like
// a credential first. fabrictl's --bearer-token flag can be typed
// directly at the REPL prompt (`connect --bearer-token=... coordinator-1:5443`),
// and Save writes the entry list to a plain file on disk — a raw token
// has no business surviving there in the clear.
func (h *History) Add(cmd string) {
	h.entries = append(h.entries, redactSensitiveArgs(cmd))
	if len(h.entries) > h.maxSize {
		h.entries = h.entries[1:]
	}
}

// redactSensitiveArgs masks the value of every --flag=value or
// --flag value pair whose flag name matches logger's sensitive-key
// patterns (token, secret, password, credential, auth, bearer, key),
// reusing the same classification the structured logger applies to
// its own log attributes rather than keeping a second, divergent list.
func redactSensitiveArgs(cmd string) string {
	return flagWithValue.ReplaceAllStringFunc(cmd, func(match string) string {
		groups := flagWithValue.FindStringSubmatch(match)
		if len(groups) != 4 || !logger.IsSensitiveKey(groups[1]) {
			return match
		}
		return "--" + groups[1] + groups[2] + historyRedactedValue
	})
}

// Get returns the history entry at index (0 = most recent).
func (h *History) Get(index int) string {
	if index < 0 || index >= len(h.entries) {
		return ""
	}
	return h.entries[len(h.entries)-1-index]
}

// Load loads history from file.
func (h *History) Load() error {
	file, err := os.Open(h.file)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		h.entries = append(h.entries, scanner.Text())
	}
	return scanner.Err()
}

// Save saves history to file.
func (h *History) Save() error {
	dir := filepath.Dir(h.file)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	file, err := os.Create(h.file)
	if err != nil {
		return err
	}
	defer file.Close()

	for _, entry := range h.entries {
		if _, err := file.WriteString(entry + "\n"); err != nil {
			return err
		}
	}
	return nil
}
