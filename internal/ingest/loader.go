package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"dealerrag/internal/types"
)

// SupportedExts lists the file extensions the loader understands.
var SupportedExts = map[string]bool{
	".txt":  true,
	".md":   true,
	".csv":  true,
	".json": true,
	".html": true,
	".pdf":  true,
	".docx": true,
}

var (
	htmlTagRe    = regexp.MustCompile(`(?s)<script.*?</script>|<style.*?</style>|<[^>]+>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	// Runs of printable characters, used for best-effort binary extraction
	printableRunRe = regexp.MustCompile(`[\x20-\x7e\n\t]{4,}`)
)

// LoadFile reads one file into a document with source metadata.
func LoadFile(path string) (types.Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !SupportedExts[ext] {
		return types.Document{}, fmt.Errorf("%w: unsupported file type %s", types.ErrValidation, ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return types.Document{}, fmt.Errorf("read %s: %w", path, err)
	}

	var text string
	switch ext {
	case ".html":
		text = stripHTML(string(data))
	case ".pdf", ".docx":
		// Best-effort extraction of printable runs. Documents that need
		// faithful layout should be converted to text before ingestion.
		text = extractPrintable(data)
	default:
		text = string(data)
	}

	if strings.TrimSpace(text) == "" {
		return types.Document{}, fmt.Errorf("%w: no extractable text in %s", types.ErrValidation, path)
	}

	return types.Document{
		Text: text,
		Metadata: map[string]interface{}{
			"source":    filepath.Base(path),
			"path":      path,
			"doc_type":  strings.TrimPrefix(ext, "."),
			"loaded_at": time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

// LoadDirectory walks a directory collecting every supported file.
// Unreadable files are reported in errs and skipped.
func LoadDirectory(root string) (docs []types.Document, errs []string) {
	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", path, err))
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !SupportedExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		doc, err := LoadFile(path)
		if err != nil {
			errs = append(errs, err.Error())
			return nil
		}
		docs = append(docs, doc)
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr.Error())
	}
	return docs, errs
}

// FromText wraps raw text as a document.
func FromText(text string, metadata map[string]interface{}) types.Document {
	meta := map[string]interface{}{
		"source":   "inline",
		"doc_type": "text",
	}
	for k, v := range metadata {
		meta[k] = v
	}
	return types.Document{Text: text, Metadata: meta}
}

// FromVehicle renders a DMS inventory record as a searchable document.
func FromVehicle(v types.Vehicle) types.Document {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s %s", v.Year, v.Make, v.Model)
	if v.Trim != "" {
		fmt.Fprintf(&b, " %s", v.Trim)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "VIN: %s\n", v.VIN)
	fmt.Fprintf(&b, "Status: %s, Category: %s\n", v.Status, v.Category)
	fmt.Fprintf(&b, "Price: $%.2f", v.Price)
	if v.MSRP > 0 {
		fmt.Fprintf(&b, " (MSRP $%.2f)", v.MSRP)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Mileage: %d miles\n", v.Mileage)
	if v.Color != "" {
		fmt.Fprintf(&b, "Color: %s\n", v.Color)
	}
	if v.FuelType != "" {
		fmt.Fprintf(&b, "Fuel: %s", v.FuelType)
		if v.MPGCity > 0 {
			fmt.Fprintf(&b, ", %d city / %d highway MPG", v.MPGCity, v.MPGHighway)
		}
		b.WriteString("\n")
	}
	if v.Engine != "" {
		fmt.Fprintf(&b, "Engine: %s, Transmission: %s, Drivetrain: %s\n", v.Engine, v.Transmission, v.Drivetrain)
	}
	if len(v.Features) > 0 {
		fmt.Fprintf(&b, "Features: %s\n", strings.Join(v.Features, ", "))
	}
	if v.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", v.Location)
	}

	return types.Document{
		Text: b.String(),
		Metadata: map[string]interface{}{
			"source":    "dms",
			"doc_type":  "vehicle",
			"vin":       v.VIN,
			"make":      v.Make,
			"model":     v.Model,
			"year":      v.Year,
			"price":     v.Price,
			"mileage":   v.Mileage,
			"dealer_id": v.DealerID,
		},
	}
}

func stripHTML(html string) string {
	text := htmlTagRe.ReplaceAllString(html, " ")
	text = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'").Replace(text)
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

func extractPrintable(data []byte) string {
	runs := printableRunRe.FindAllString(string(data), -1)
	return strings.TrimSpace(strings.Join(runs, "\n"))
}
