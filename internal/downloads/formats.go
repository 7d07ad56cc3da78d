package downloads

import (
	"fmt"
	"slices"
	"strings"
)

// Format is a downloadable dictionary file format.
type Format struct {
	Key   string
	Label string
	// Pattern has three %s verbs: source language, target language and
	// etymology suffix.
	Pattern string
}

const noEtymSuffix = "-noetym"

// Formats in display order.
var Formats = []Format{
	{Key: "stardict", Label: "StarDict", Pattern: "dict-%s-%s%s.zip"},
	{Key: "kobo", Label: "Kobo", Pattern: "dicthtml-%s-%s%s.zip"},
	{Key: "mobi", Label: "Kindle", Pattern: "dict-%s-%s%s.mobi.zip"},
	{Key: "dictorg", Label: "DICT.org", Pattern: "dictorg-%s-%s%s.zip"},
	{Key: "df", Label: "DictFile", Pattern: "dict-%s-%s%s.df.bz2"},
}

func (f Format) FileName(src, dst string, noEtym bool) string {
	suffix := ""
	if noEtym {
		suffix = noEtymSuffix
	}
	return fmt.Sprintf(f.Pattern, src, dst, suffix)
}

// FormatFromFileName finds the format whose file name for the src-dst
// dictionary is name, with or without etymologies.
func FormatFromFileName(src, dst, name string) (Format, bool) {
	i := slices.IndexFunc(Formats, func(f Format) bool {
		return f.FileName(src, dst, false) == name || f.FileName(src, dst, true) == name
	})
	if i < 0 {
		return Format{}, false
	}
	return Formats[i], true
}

// EtymVariant is the metrics bucket of a file name: "noetym" or "full".
func EtymVariant(name string) string {
	if strings.Contains(name, "noetym") {
		return "noetym"
	}
	return "full"
}
