package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"
)

func EnsureLayout(root string) error {
	dirs := []string{root, ReposRoot(root), BinRoot(root), StagingRoot(root)}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func LoadState(root string) (State, error) {
	if err := EnsureLayout(root); err != nil {
		return State{}, err
	}
	path := StatePath(root)
	blob, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{Version: StateVersion}, nil
		}
		return State{}, err
	}
	var st State
	if err := toml.Unmarshal(blob, &st); err != nil {
		return State{}, fmt.Errorf("DOC_STATE_PARSE: %w", err)
	}
	if st.Version == 0 {
		st.Version = StateVersion
	}
	if st.Version != StateVersion {
		return State{}, fmt.Errorf("DOC_STATE_VERSION: unsupported state version %d", st.Version)
	}
	for i := range st.Receipts {
		if st.Receipts[i].ID == "" {
			return State{}, fmt.Errorf("DOC_STATE_SCHEMA: receipt missing id")
		}
	}
	return st, nil
}

func SaveState(root string, st State) error {
	if err := EnsureLayout(root); err != nil {
		return err
	}
	st.Version = StateVersion
	sort.Slice(st.Receipts, func(i, j int) bool {
		return st.Receipts[i].ID < st.Receipts[j].ID
	})
	blob, err := toml.Marshal(st)
	if err != nil {
		return fmt.Errorf("DOC_STATE_ENCODE: %w", err)
	}
	path := StatePath(root)
	tmp := filepath.Join(filepath.Dir(path), ".state.toml.tmp")
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func UpsertReceipt(st *State, rec Receipt) {
	for i := range st.Receipts {
		if st.Receipts[i].ID == rec.ID {
			st.Receipts[i] = rec
			return
		}
	}
	st.Receipts = append(st.Receipts, rec)
}

func FindReceipt(st State, id string) (Receipt, bool) {
	for _, r := range st.Receipts {
		if r.ID == id {
			return r, true
		}
	}
	return Receipt{}, false
}
