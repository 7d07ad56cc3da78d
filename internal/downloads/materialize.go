package downloads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/reader-dict/website/internal/orders"
	"github.com/reader-dict/website/internal/platform/atomicfile"
)

// Materialize freezes the files and catalog metadata of purchase o so
// later catalog updates do not change what was bought. It does nothing
// when the purchase was already materialized.
func (s *Service) Materialize(_ context.Context, o orders.Order) error {
	dir := s.purchaseDir(o.ID)
	metadataPath := filepath.Join(dir, metadataFile)
	if isFile(metadataPath) {
		s.logger.Debug("purchase files already materialized", "order_id", o.ID)
		return nil
	}

	src, dst := o.LangSrc(), o.LangDst()
	details, err := s.catalog.Details(src, dst)
	if err != nil {
		return fmt.Errorf("reading catalog entry %s-%s: %w", src, dst, err)
	}

	if err := copyTree(filepath.Join(s.cfg.FilesDir, src, dst), dir); err != nil {
		return fmt.Errorf("copying dictionary files: %w", err)
	}

	details["buy-date"] = orders.FormatTime(s.now())
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(details); err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	// Written last: its presence marks a complete copy.
	if err := atomicfile.Write(metadataPath, buf.Bytes()); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}

	s.logger.Info("purchase files materialized", "order_id", o.ID, "dictionary", o.Dictionary)
	return nil
}

func copyTree(from, to string) error {
	if err := os.MkdirAll(to, 0o755); err != nil {
		return err
	}
	return filepath.WalkDir(from, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(from, path)
		if err != nil {
			return err
		}
		target := filepath.Join(to, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(to)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
