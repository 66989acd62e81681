package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// ChainVerification is the result of checking a chain. BrokenAt is the
// index of the first bad entry, or -1.
type ChainVerification struct {
	Valid    bool   `json:"valid"`
	Entries  int    `json:"entries"`
	BrokenAt int    `json:"broken_at"`
	Reason   string `json:"reason,omitempty"`
}

func VerifyEntries(entries []Entry) ChainVerification {
	prev := genesis
	for i, e := range entries {
		var reason string
		switch {
		case e.Seq != uint64(i):
			reason = fmt.Sprintf("entry %d has sequence %d", i, e.Seq)
		case e.PrevHash != prev:
			reason = fmt.Sprintf("entry %d does not link to its predecessor", i)
		case e.computeHash() != e.Hash:
			reason = fmt.Sprintf("entry %d hash mismatch", i)
		}
		if reason != "" {
			return ChainVerification{Entries: len(entries), BrokenAt: i, Reason: reason}
		}
		prev = e.Hash
	}
	return ChainVerification{Valid: true, Entries: len(entries), BrokenAt: -1}
}

// ReadFile loads a JSON-lines audit log.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("audit log line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

// VerifyFile reads and verifies the log at path.
func VerifyFile(path string) (ChainVerification, error) {
	entries, err := ReadFile(path)
	if err != nil {
		return ChainVerification{}, err
	}
	return VerifyEntries(entries), nil
}
