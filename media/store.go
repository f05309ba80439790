// Package media stores uploaded cause photos and story media on local disk.
package media

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"donatenow/logging"

	"github.com/disintegration/imaging"
)

// ErrTooLarge is returned for uploads above the configured size limit.
var ErrTooLarge = errors.New("file too large")

// URLPrefix is where the base directory is served over HTTP.
const URLPrefix = "/uploads"

// Kind classifies an upload.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindOther Kind = "other"
)

// ThumbnailSize bounds the longest side of generated thumbnails.
const ThumbnailSize = 480

// Ref points at a stored upload.
type Ref struct {
	Path        string // public path, e.g. /uploads/ab12.jpg
	ContentType string
	Kind        Kind
	Thumbnail   string // public path of the thumbnail, images only
}

type Store struct {
	baseDir  string
	maxBytes int64
}

func NewStore(baseDir string, maxBytes int64) *Store {
	return &Store{baseDir: baseDir, maxBytes: maxBytes}
}

// BaseDir is the directory files are written to.
func (s *Store) BaseDir() string { return s.baseDir }

// Save writes the upload under a random name and returns its reference.
// Images also get a downscaled thumbnail next to the original; a thumbnail
// failure is logged and does not fail the upload.
func (s *Store) Save(fh *multipart.FileHeader) (*Ref, error) {
	if fh == nil {
		return nil, errors.New("no file")
	}
	if s.maxBytes > 0 && fh.Size > s.maxBytes {
		return nil, fmt.Errorf("%w (max %d bytes)", ErrTooLarge, s.maxBytes)
	}
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	contentType := http.DetectContentType(head)

	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", s.baseDir, err)
	}
	name, err := randomName(strings.ToLower(filepath.Ext(fh.Filename)))
	if err != nil {
		return nil, err
	}
	full := filepath.Join(s.baseDir, name)
	if err := writeFile(full, io.MultiReader(bytes.NewReader(head), src), s.maxBytes); err != nil {
		return nil, err
	}

	ref := &Ref{Path: URLPrefix + "/" + name, ContentType: contentType, Kind: kindOf(contentType)}
	if ref.Kind == KindImage {
		thumb, err := s.thumbnail(full, name)
		if err != nil {
			logging.Warn().Err(err).Str("file", name).Msg("thumbnail generation failed")
		} else {
			ref.Thumbnail = URLPrefix + "/" + thumb
		}
	}
	return ref, nil
}

func (s *Store) thumbnail(full, name string) (string, error) {
	img, err := imaging.Open(full, imaging.AutoOrientation(true))
	if err != nil {
		return "", err
	}
	thumbName := "thumb_" + strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg"
	dst := imaging.Fit(img, ThumbnailSize, ThumbnailSize, imaging.Lanczos)
	if err := imaging.Save(dst, filepath.Join(s.baseDir, thumbName), imaging.JPEGQuality(80)); err != nil {
		return "", err
	}
	return thumbName, nil
}

// Remove deletes a stored file and its thumbnail given its public path.
func (s *Store) Remove(publicPath string) error {
	name := strings.TrimPrefix(publicPath, URLPrefix+"/")
	if name == publicPath || name == "" || strings.Contains(name, "/") || strings.Contains(name, "..") {
		return fmt.Errorf("not a media path: %q", publicPath)
	}
	if err := os.Remove(filepath.Join(s.baseDir, name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	thumb := "thumb_" + strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg"
	if err := os.Remove(filepath.Join(s.baseDir, thumb)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func writeFile(path string, r io.Reader, limit int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	written, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && limit > 0 && written > limit {
		err = fmt.Errorf("%w (max %d bytes)", ErrTooLarge, limit)
	}
	if err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

func randomName(ext string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	if len(ext) > 8 {
		ext = ""
	}
	return hex.EncodeToString(b) + ext, nil
}

func kindOf(contentType string) Kind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return KindImage
	case strings.HasPrefix(contentType, "video/"):
		return KindVideo
	default:
		return KindOther
	}
}
