package update

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jaa/forge/internal/fileops"
)

const lockFileName = "flake.lock"

// LockPath returns the lockfile path inside a flake directory.
func LockPath(flakeDir string) string {
	return filepath.Join(flakeDir, lockFileName)
}

// LockHash fingerprints the lockfile. A missing or unreadable lockfile
// hashes to the empty string.
func LockHash(flakeDir string) string {
	payload, err := os.ReadFile(LockPath(flakeDir))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// SaveLockBackup snapshots the current lockfile so the post-update diff
// has something to compare against.
func SaveLockBackup(flakeDir, backupPath string) error {
	err := fileops.CopyFileAtomically(LockPath(flakeDir), backupPath)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

type lockFile struct {
	Nodes map[string]lockNode `json:"nodes"`
	Root  string              `json:"root"`
}

type lockNode struct {
	Inputs map[string]json.RawMessage `json:"inputs"`
	Locked *lockedRef                 `json:"locked"`
}

type lockedRef struct {
	Type  string `json:"type"`
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	Rev   string `json:"rev"`
	URL   string `json:"url"`
}

// lockedInput is a root input resolved to its locked reference.
type lockedInput struct {
	Name string
	Ref  lockedRef
}

func parseLock(payload []byte) (map[string]lockedRef, error) {
	var lock lockFile
	if err := json.Unmarshal(payload, &lock); err != nil {
		return nil, fmt.Errorf("parse flake.lock: %w", err)
	}

	rootName := lock.Root
	if rootName == "" {
		rootName = "root"
	}
	root, ok := lock.Nodes[rootName]
	if !ok {
		return nil, fmt.Errorf("flake.lock has no root node %q", rootName)
	}

	refs := map[string]lockedRef{}
	for input, raw := range root.Inputs {
		var nodeName string
		if err := json.Unmarshal(raw, &nodeName); err != nil {
			// A list value means the input follows another flake's input.
			continue
		}
		node, ok := lock.Nodes[nodeName]
		if !ok || node.Locked == nil || node.Locked.Rev == "" {
			continue
		}
		refs[input] = *node.Locked
	}
	return refs, nil
}

// DiffLocks lists the root inputs whose locked revision differs between
// two lockfile payloads, sorted by input name. Inputs that only appear on
// one side are ignored.
func DiffLocks(before, after []byte) ([]FlakeChange, error) {
	oldRefs, err := parseLock(before)
	if err != nil {
		return nil, err
	}
	newRefs, err := parseLock(after)
	if err != nil {
		return nil, err
	}

	changed := []lockedInput{}
	for name, newRef := range newRefs {
		oldRef, ok := oldRefs[name]
		if !ok || oldRef.Rev == newRef.Rev {
			continue
		}
		changed = append(changed, lockedInput{Name: name, Ref: newRef})
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].Name < changed[j].Name })

	changes := make([]FlakeChange, 0, len(changed))
	for _, input := range changed {
		oldRef := oldRefs[input.Name]
		changes = append(changes, FlakeChange{
			Name:       input.Name,
			OldRev:     oldRef.Rev,
			NewRev:     input.Ref.Rev,
			CompareURL: compareURL(input.Ref, oldRef.Rev, input.Ref.Rev),
		})
	}
	return changes, nil
}

func compareURL(ref lockedRef, oldRev, newRev string) string {
	if strings.EqualFold(ref.Type, "github") && ref.Owner != "" && ref.Repo != "" {
		return fmt.Sprintf("https://github.com/%s/%s/compare/%s...%s", ref.Owner, ref.Repo, shortRev(oldRev), shortRev(newRev))
	}
	return ""
}

// githubRepo extracts owner and repo from a compare URL built by
// compareURL.
func githubRepo(url string) (string, string, bool) {
	rest, ok := strings.CutPrefix(url, "https://github.com/")
	if !ok {
		return "", "", false
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
