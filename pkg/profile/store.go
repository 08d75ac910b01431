package profile

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store persists one profile per device serial under a directory.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore creates a store rooted at dir. The directory is created on
// first save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the profile file path for a serial.
func (s *Store) Path(serial string) string {
	return filepath.Join(s.dir, sanitize(serial)+".yaml")
}

// Load reads the profile for a serial.
// Returns nil, nil if no profile exists yet.
func (s *Store) Load(serial string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path(serial))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Save persists the profile for a serial. The file is replaced
// atomically via a temp file and rename.
func (s *Store) Save(serial string, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}

	data, err := p.Encode()
	if err != nil {
		return err
	}

	path := s.Path(serial)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Clear removes the profile for a serial.
func (s *Store) Clear(serial string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.Path(serial))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// List returns the serials that have stored profiles.
func (s *Store) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var serials []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		serials = append(serials, strings.TrimSuffix(name, ".yaml"))
	}
	return serials, nil
}

// sanitize maps a serial to a safe file name component.
func sanitize(serial string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, serial)
}
