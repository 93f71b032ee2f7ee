// Package policy decides which senders the bridge listens to. It keeps
// an allow-list and a deny-list, persisted to a TOML file so block and
// unblock survive restarts.
package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/telebridge/telebridge/internal/platform"
)

type fileFormat struct {
	AllowedUsers []int64 `toml:"allowed_users"`
	BannedUsers  []int64 `toml:"banned_users"`
}

// Policy is the sender access service.
type Policy struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	allowed map[int64]struct{}
	banned  map[int64]struct{}
}

// Load reads the policy file. A missing file yields an empty policy,
// which allows every sender.
func Load(path string, log *slog.Logger) (*Policy, error) {
	if log == nil {
		log = slog.Default()
	}
	p := &Policy{
		path:    path,
		logger:  log.With(slog.String("service", "policy")),
		allowed: map[int64]struct{}{},
		banned:  map[int64]struct{}{},
	}
	var raw fileFormat
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load policy %s: %w", path, err)
		}
	}
	for _, id := range raw.AllowedUsers {
		p.allowed[id] = struct{}{}
	}
	for _, id := range raw.BannedUsers {
		p.banned[id] = struct{}{}
	}
	return p, nil
}

// Allowed reports whether a sender's messages should be processed.
// Banned senders are always rejected. The allow-list gates private
// chats only; group messages pass regardless, since group membership is
// Telegram's access control, not ours. An empty allow-list admits
// everyone.
func (p *Policy) Allowed(senderID int64, kind platform.ChatKind) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, banned := p.banned[senderID]; banned {
		return false
	}
	if kind.IsGroup() {
		return true
	}
	if len(p.allowed) == 0 {
		return true
	}
	_, ok := p.allowed[senderID]
	return ok
}

// IsBanned reports deny-list membership.
func (p *Policy) IsBanned(senderID int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.banned[senderID]
	return ok
}

// Block adds the sender to the deny-list and persists.
func (p *Policy) Block(senderID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.banned[senderID] = struct{}{}
	return p.save()
}

// Unblock removes the sender from the deny-list and persists.
func (p *Policy) Unblock(senderID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.banned, senderID)
	return p.save()
}

// save writes the policy file atomically. Callers hold the write lock.
func (p *Policy) save() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create policy dir: %w", err)
	}
	raw := fileFormat{
		AllowedUsers: sortedKeys(p.allowed),
		BannedUsers:  sortedKeys(p.banned),
	}
	tmp := p.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("write policy: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(raw); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode policy: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("replace policy file: %w", err)
	}
	return nil
}

func sortedKeys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
