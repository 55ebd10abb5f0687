// Package credstore holds the read-only credential list the server is
// started with.
package credstore

import (
	"bufio"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// Digest returns the hex credential digest for a password/username pair.
// The concatenation order matches the provisioning tool.
func Digest(password, username string) string {
	sum := sha512.Sum384([]byte(password + username))
	return hex.EncodeToString(sum[:])
}

// Store is an immutable credential list loaded at startup.
type Store struct {
	byDigest map[string]string
}

// Load reads a credential file with one "<hex digest>;<username>" record
// per line. Blank lines are skipped, any other line that does not split
// into two fields fails the load. The first record wins when a digest
// repeats.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open credential file: %w", err)
	}
	defer f.Close()

	byDigest := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		digest, username, ok := strings.Cut(line, ";")
		if !ok || digest == "" || username == "" {
			return nil, fmt.Errorf("credential file %s: malformed record on line %d", path, lineNo)
		}
		if _, exists := byDigest[digest]; !exists {
			byDigest[digest] = username
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}
	return &Store{byDigest: byDigest}, nil
}

// Lookup returns the username owning digest.
func (s *Store) Lookup(digest string) (string, bool) {
	username, ok := s.byDigest[digest]
	return username, ok
}

// Verify checks a username/password pair and returns the matching digest.
func (s *Store) Verify(username, password string) (string, bool) {
	digest := Digest(password, username)
	owner, ok := s.byDigest[digest]
	if !ok || owner != username {
		return "", false
	}
	return digest, true
}

// HasUser reports whether any record belongs to username.
func (s *Store) HasUser(username string) bool {
	for _, owner := range s.byDigest {
		if owner == username {
			return true
		}
	}
	return false
}

// Len returns the number of loaded credential records.
func (s *Store) Len() int {
	return len(s.byDigest)
}
