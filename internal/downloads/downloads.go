// Package downloads grants access to dictionary files: it checks an
// order's download capability, hands out short-lived file links and
// freezes the files of each purchase.
package downloads

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/reader-dict/website/internal/cache"
	"github.com/reader-dict/website/internal/catalog"
	"github.com/reader-dict/website/internal/metrics"
	"github.com/reader-dict/website/internal/orders"
)

var (
	ErrBadRequest = errors.New("bad download request")
	ErrForbidden  = errors.New("download not allowed")
	ErrNotFound   = errors.New("not found")
	ErrGone       = errors.New("download link expired")
)

const (
	purchasesDir = "purchases"
	metadataFile = "metadata.json"
	sourceFree   = "free"
)

// Link is one format of a dictionary with its two etymology variants.
type Link struct {
	Format     string `json:"format"`
	Label      string `json:"label"`
	FileFull   string `json:"file_full"`
	FileNoEtym string `json:"file_noetym"`
	LinkFull   string `json:"link_full"`
	LinkNoEtym string `json:"link_noetym"`
}

// Page is the content of a download page.
type Page struct {
	Dictionary string `json:"dictionary"`
	Updated    string `json:"updated"`
	Words      int    `json:"words"`
	Links      []Link `json:"links"`
}

// File is a resolved download.
type File struct {
	Path       string
	Name       string
	Source     string
	OrderID    string
	Dictionary string
	Format     string
}

type Config struct {
	FilesDir string
	Pepper   string
	LinkTTL  time.Duration
}

type Option func(*Service)

// WithClock overrides the clock used for status checks and buy dates.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	store   *orders.Store
	catalog *catalog.Catalog
	links   *cache.Cache
	metrics *metrics.Recorder
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
}

func NewService(store *orders.Store, cat *catalog.Catalog, links *cache.Cache, m *metrics.Recorder, cfg Config, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		catalog: cat,
		links:   links,
		metrics: m,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Monolingual lists the free files of the lang-lang dictionary.
func (s *Service) Monolingual(lang string) (Page, error) {
	entry, err := s.catalog.ByName(lang + "-" + lang)
	if errors.Is(err, catalog.ErrNotFound) {
		return Page{}, fmt.Errorf("%w: dictionary %s-%s", ErrNotFound, lang, lang)
	}
	if err != nil {
		return Page{}, err
	}

	page := newPage(entry)
	for _, f := range entryFormats(entry) {
		full, noEtym := f.FileName(lang, lang, false), f.FileName(lang, lang, true)
		page.Links = append(page.Links, Link{
			Format:     f.Key,
			Label:      f.Label,
			FileFull:   full,
			FileNoEtym: noEtym,
			LinkFull:   lang + "/" + full,
			LinkNoEtym: lang + "/" + noEtym,
		})
	}
	return page, nil
}

// Bilingual checks that the order identified by orderID and checkpoint
// may download the src-dst dictionary and returns timed file links.
func (s *Service) Bilingual(src, dst, orderID, checkpoint string) (Page, error) {
	if orderID == "" || !orders.IsCheckpoint(checkpoint) {
		return Page{}, fmt.Errorf("%w: missing order or malformed checkpoint", ErrBadRequest)
	}

	o, ok := s.store.Get(orderID)
	if !ok {
		return Page{}, fmt.Errorf("%w: no order %s", ErrNotFound, orderID)
	}

	requested := src + "-" + dst
	entry, err := s.dictionary(o, src, dst)
	if err != nil {
		return Page{}, err
	}

	if available := o.TargetDictionary(); available != requested {
		return Page{}, fmt.Errorf("%w: order %s grants %s, not %s", ErrForbidden, o.ID, available, requested)
	}

	want, err := o.Checkpoint(s.cfg.Pepper)
	if err != nil {
		return Page{}, err
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(checkpoint)) != 1 {
		return Page{}, fmt.Errorf("%w: invalid checkpoint for order %s", ErrForbidden, o.ID)
	}

	if !o.StatusOK(s.now()) {
		return Page{}, fmt.Errorf("%w: order %s status %q", ErrForbidden, o.ID, o.Status)
	}

	page := newPage(entry)
	for _, f := range entryFormats(entry) {
		link := Link{
			Format:     f.Key,
			Label:      f.Label,
			FileFull:   f.FileName(src, dst, false),
			FileNoEtym: f.FileName(src, dst, true),
		}
		if link.LinkFull, err = s.timedLink(o, src, dst, link.FileFull, f.Key); err != nil {
			return Page{}, err
		}
		if link.LinkNoEtym, err = s.timedLink(o, src, dst, link.FileNoEtym, f.Key); err != nil {
			return Page{}, err
		}
		page.Links = append(page.Links, link)
	}
	return page, nil
}

// dictionary returns the catalog entry shown to o. A purchase keeps the
// metadata frozen at buy time when it exists.
func (s *Service) dictionary(o orders.Order, src, dst string) (catalog.Entry, error) {
	name := src + "-" + dst
	if o.IsPurchase() && o.Dictionary == name {
		raw, err := os.ReadFile(filepath.Join(s.purchaseDir(o.ID), metadataFile))
		if err == nil {
			var entry catalog.Entry
			if err := json.Unmarshal(raw, &entry); err != nil {
				return catalog.Entry{}, fmt.Errorf("decoding purchase metadata of %s: %w", o.ID, err)
			}
			entry.Name, entry.LangSrc, entry.LangDst = name, src, dst
			return entry, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return catalog.Entry{}, err
		}
	}

	entry, err := s.catalog.ByName(name)
	if errors.Is(err, catalog.ErrNotFound) {
		return catalog.Entry{}, fmt.Errorf("%w: dictionary %s", ErrNotFound, name)
	}
	return entry, err
}

func (s *Service) timedLink(o orders.Order, src, dst, name, format string) (string, error) {
	value := strings.Join([]string{string(o.Type()), o.ID, src, dst, name, format}, "|")
	token, err := s.links.Put(value, s.cfg.LinkTTL)
	if err != nil {
		return "", fmt.Errorf("creating file link: %w", err)
	}
	return token, nil
}

// Resolve turns a timed link token into the file it points to.
func (s *Service) Resolve(token string) (File, error) {
	value, err := s.links.Get(token)
	if errors.Is(err, cache.ErrMiss) || errors.Is(err, cache.ErrExpired) {
		return File{}, fmt.Errorf("%w: %v", ErrGone, err)
	}
	if err != nil {
		return File{}, err
	}

	parts := strings.Split(value, "|")
	if len(parts) != 6 {
		return File{}, fmt.Errorf("%w: malformed link %q", ErrGone, value)
	}
	kind, orderID, src, dst, name, format := parts[0], parts[1], parts[2], parts[3], parts[4], parts[5]
	if name != filepath.Base(name) {
		return File{}, fmt.Errorf("%w: file %q", ErrNotFound, name)
	}

	f := File{
		Path:       filepath.Join(s.cfg.FilesDir, src, dst, name),
		Name:       name,
		Source:     kind,
		OrderID:    orderID,
		Dictionary: src + "-" + dst,
		Format:     format,
	}
	if kind == string(orders.KindPurchase) {
		frozen := filepath.Join(s.purchaseDir(orderID), name)
		if isFile(frozen) {
			f.Path = frozen
		}
	}
	if !isFile(f.Path) {
		s.logger.Error("dictionary file is missing", "dictionary", f.Dictionary, "file", name)
		return File{}, fmt.Errorf("%w: file %s", ErrNotFound, name)
	}
	return f, nil
}

// ResolveFree finds a file of the free lang-lang dictionary.
func (s *Service) ResolveFree(lang, name string) (File, error) {
	format, ok := FormatFromFileName(lang, lang, name)
	if !ok {
		return File{}, fmt.Errorf("%w: file %s", ErrNotFound, name)
	}
	f := File{
		Path:       filepath.Join(s.cfg.FilesDir, lang, lang, name),
		Name:       name,
		Source:     sourceFree,
		Dictionary: lang + "-" + lang,
		Format:     format.Key,
	}
	if !isFile(f.Path) {
		return File{}, fmt.Errorf("%w: file %s", ErrNotFound, name)
	}
	return f, nil
}

// Record counts a download. Counting failures never block the download.
func (s *Service) Record(ctx context.Context, f File) {
	if err := s.metrics.PlusOne(ctx, f.Dictionary, f.Format, EtymVariant(f.Name)); err != nil {
		s.logger.Error("download not counted", "dictionary", f.Dictionary, "file", f.Name, "error", err)
	}
}

// Summaries is the public catalog.
func (s *Service) Summaries() (map[string]map[string]catalog.Summary, error) {
	return s.catalog.Summaries()
}

func (s *Service) purchaseDir(orderID string) string {
	return filepath.Join(s.cfg.FilesDir, purchasesDir, filepath.Base(orderID))
}

func newPage(entry catalog.Entry) Page {
	return Page{Dictionary: entry.Name, Updated: entry.Updated, Words: entry.Words}
}

func entryFormats(entry catalog.Entry) []Format {
	available := entry.FormatList()
	out := make([]Format, 0, len(Formats))
	for _, f := range Formats {
		for _, key := range available {
			if strings.TrimSpace(key) == f.Key {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
