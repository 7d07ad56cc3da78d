// Package catalog reads the dictionary catalog, a JSON document keyed by
// source then target language.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrNotFound = errors.New("dictionary not found")

// Entry is one dictionary of the catalog.
type Entry struct {
	Name    string `json:"-"`
	LangSrc string `json:"-"`
	LangDst string `json:"-"`
	Enabled bool   `json:"enabled"`
	Formats string `json:"formats"`
	PlanID  string `json:"plan_id"`
	UID     string `json:"uid"`
	Updated string `json:"updated"`
	Words   int    `json:"words"`
}

// Public reports whether the entry may be sold and downloaded.
func (e Entry) Public() bool {
	return e.PlanID != "" && e.Enabled && e.UID != ""
}

// FormatList splits the comma-separated format keys.
func (e Entry) FormatList() []string {
	if e.Formats == "" {
		return nil
	}
	return strings.Split(e.Formats, ",")
}

// Summary is the subset of an entry exposed by the public API.
type Summary struct {
	Formats string `json:"formats"`
	Updated string `json:"updated"`
	Words   int    `json:"words"`
}

// Catalog re-reads its file on every call so catalog updates are picked
// up without a restart.
type Catalog struct {
	path string
}

func New(path string) *Catalog {
	return &Catalog{path: path}
}

// Load returns the public entries keyed by source then target language.
func (c *Catalog) Load() (map[string]map[string]Entry, error) {
	raw, err := c.readRaw()
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[string]Entry)
	for src, targets := range raw {
		for dst, details := range targets {
			var e Entry
			if err := json.Unmarshal(details, &e); err != nil {
				return nil, fmt.Errorf("decoding dictionary %s-%s: %w", src, dst, err)
			}
			if !e.Public() {
				continue
			}
			e.Name, e.LangSrc, e.LangDst = src+"-"+dst, src, dst
			if out[src] == nil {
				out[src] = make(map[string]Entry)
			}
			out[src][dst] = e
		}
	}
	return out, nil
}

// ByName finds a public entry by its "src-dst" name.
func (c *Catalog) ByName(name string) (Entry, error) {
	src, dst, ok := strings.Cut(name, "-")
	if !ok {
		return Entry{}, ErrNotFound
	}
	all, err := c.Load()
	if err != nil {
		return Entry{}, err
	}
	e, ok := all[src][dst]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (c *Catalog) ByPlanID(planID string) (Entry, error) {
	all, err := c.Load()
	if err != nil {
		return Entry{}, err
	}
	for _, targets := range all {
		for _, e := range targets {
			if e.PlanID == planID {
				return e, nil
			}
		}
	}
	return Entry{}, ErrNotFound
}

// Summaries is the public catalog as served to the storefront.
func (c *Catalog) Summaries() (map[string]map[string]Summary, error) {
	all, err := c.Load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]Summary, len(all))
	for src, targets := range all {
		out[src] = make(map[string]Summary, len(targets))
		for dst, e := range targets {
			out[src][dst] = Summary{Formats: e.Formats, Updated: e.Updated, Words: e.Words}
		}
	}
	return out, nil
}

// Details returns every stored attribute of a dictionary, public or not.
func (c *Catalog) Details(src, dst string) (map[string]any, error) {
	raw, err := c.readRaw()
	if err != nil {
		return nil, err
	}
	details, ok := raw[src][dst]
	if !ok {
		return nil, ErrNotFound
	}
	var out map[string]any
	if err := json.Unmarshal(details, &out); err != nil {
		return nil, fmt.Errorf("decoding dictionary %s-%s: %w", src, dst, err)
	}
	return out, nil
}

func (c *Catalog) readRaw() (map[string]map[string]json.RawMessage, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	return raw, nil
}
