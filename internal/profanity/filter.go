// SPDX-License-Identifier: MIT

// Package profanity screens nicknames against a word list. Matching is done
// on a normalized form so case tricks, accents and common digit substitutions
// do not bypass the filter.
package profanity

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	xglog "github.com/quizwire/quizwire/internal/log"

	unorm "golang.org/x/text/unicode/norm"
)

// leet maps common character substitutions back to letters before matching.
var leet = strings.NewReplacer(
	"0", "o",
	"1", "i",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
	"8", "b",
	"@", "a",
	"$", "s",
	"!", "i",
)

// Normalize reduces a candidate string to a canonical lowercase form:
// NFKD decomposition, combining marks stripped, digit substitutions folded,
// everything outside [a-z0-9] removed.
func Normalize(s string) string {
	s = unorm.NFKD.String(s)
	s = strings.ToLower(s)
	s = leet.Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.Is(unicode.Mn, r) {
			continue // combining mark from decomposition
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Filter holds the normalized word list and optionally watches the backing
// file for changes.
type Filter struct {
	mu      sync.RWMutex
	words   []string
	path    string
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
}

// defaultWords seeds the filter when no word list file is configured. Kept
// deliberately small; deployments ship their own list.
var defaultWords = []string{
	"fuck", "shit", "bitch", "cunt", "asshole", "bastard", "dick", "nigger",
}

// New creates a filter seeded with the built-in list.
func New() *Filter {
	f := &Filter{logger: xglog.WithComponent("profanity")}
	f.replace(defaultWords)
	return f
}

// NewFromFile creates a filter loaded from path. The file holds one word per
// line; blank lines and lines starting with '#' are skipped.
func NewFromFile(path string) (*Filter, error) {
	f := &Filter{path: path, logger: xglog.WithComponent("profanity")}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Filter) replace(raw []string) {
	words := make([]string, 0, len(raw))
	for _, w := range raw {
		if n := Normalize(w); n != "" {
			words = append(words, n)
		}
	}
	f.mu.Lock()
	f.words = words
	f.mu.Unlock()
}

// Reload re-reads the word list file and atomically swaps it in. On error
// the previous list is kept.
func (f *Filter) Reload() error {
	if f.path == "" {
		return nil
	}

	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open word list: %w", err)
	}
	defer file.Close() //nolint:errcheck

	var raw []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw = append(raw, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read word list: %w", err)
	}

	f.replace(raw)
	f.logger.Info().
		Str("event", "profanity.reloaded").
		Str("path", f.path).
		Int("words", len(raw)).
		Msg("word list loaded")
	return nil
}

// StartWatcher watches the word list file and reloads it on change. No-op
// when the filter uses the built-in list.
func (f *Filter) StartWatcher(ctx context.Context) error {
	if f.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(f.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch word list: %w", err)
	}
	f.watcher = watcher

	go f.watchLoop(ctx)
	return nil
}

func (f *Filter) watchLoop(ctx context.Context) {
	// Debounce so editors that write in several steps trigger one reload.
	var debounce *time.Timer
	const debounceDelay = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = f.watcher.Close()
			return

		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, func() {
					if err := f.Reload(); err != nil {
						f.logger.Error().
							Err(err).
							Str("event", "profanity.reload_failed").
							Msg("word list reload failed")
					}
				})
			}

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Error().
				Err(err).
				Str("event", "profanity.watcher_error").
				Msg("word list watcher error")
		}
	}
}

// Stop closes the file watcher if one is running.
func (f *Filter) Stop() {
	if f.watcher != nil {
		_ = f.watcher.Close()
	}
}

// Contains reports whether the normalized form of s contains any listed word.
func (f *Filter) Contains(s string) bool {
	n := Normalize(s)
	if n == "" {
		return false
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, w := range f.words {
		if strings.Contains(n, w) {
			return true
		}
	}
	return false
}
