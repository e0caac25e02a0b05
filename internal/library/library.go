package library

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"pdfchat/internal/logger"
)

const (
	pdfExt = ".pdf"

	// MaxPayloadBytes is Telegram's limit for inline button callback data.
	MaxPayloadBytes = 64
	hashedPrefix    = "sha:"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrInvalidDocument = errors.New("invalid pdf document")
)

// Document describes one PDF in the library folder.
type Document struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
	Pages   int
}

// Fingerprint identifies the local file contents well enough to reuse an upload.
func (d Document) Fingerprint() string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%d|%d", d.Name, d.Size, d.ModTime.UnixNano())))
	return hex.EncodeToString(sum[:])
}

// Library is a flat folder of PDF files.
type Library struct {
	dir string
}

func New(dir string) *Library {
	return &Library{dir: dir}
}

// Dir returns the folder the library reads from.
func (l *Library) Dir() string {
	return l.dir
}

// List returns the PDF file names in directory order, skipping dotfiles. A
// missing folder is created and reported as empty.
func (l *Library) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read library %s: %w", l.dir, err)
		}
		if err := os.MkdirAll(l.dir, 0o755); err != nil {
			return nil, fmt.Errorf("create library %s: %w", l.dir, err)
		}
		return nil, nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if strings.HasSuffix(strings.ToLower(entry.Name()), pdfExt) {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Payload returns the callback data for a file name, hashing names that do not fit.
func Payload(name string) string {
	if len(name) <= MaxPayloadBytes && !strings.HasPrefix(name, hashedPrefix) {
		return name
	}
	return hashedPrefix + nameHash(name)
}

// Resolve maps callback data back to a file name currently in the library.
func (l *Library) Resolve(payload string) (string, error) {
	names, err := l.List()
	if err != nil {
		return "", err
	}
	hashed := strings.HasPrefix(payload, hashedPrefix)
	for _, name := range names {
		if hashed {
			if hashedPrefix+nameHash(name) == payload {
				return name, nil
			}
			continue
		}
		if name == payload {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, payload)
}

// Open validates a library file and reads its page count. The count is best
// effort: a file the local parser cannot read reports zero pages and is still
// returned for upload.
func (l *Library) Open(name string) (*Document, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if !strings.HasSuffix(strings.ToLower(name), pdfExt) {
		return nil, fmt.Errorf("%w: %s is not a pdf", ErrInvalidDocument, name)
	}
	path := filepath.Join(l.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	pages, err := countPages(path)
	if err != nil {
		logger.Warnf("count pages of %s: %v", name, err)
		pages = 0
	}
	return &Document{
		Name:    name,
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Pages:   pages,
	}, nil
}

func countPages(path string) (pages int, err error) {
	// the parser panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()
	f, reader, err := pdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	pages = reader.NumPage()
	if pages <= 0 {
		return 0, errors.New("no pages")
	}
	return pages, nil
}

func nameHash(name string) string {
	sum := sha1.Sum([]byte(name))
	return hex.EncodeToString(sum[:8])
}
