package sde

import (
	"archive/zip"
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"minmatar-fleet/internal/logger"
)

const sdeURL = "https://developers.eveonline.com/static-data/eve-online-static-data-latest-jsonl.zip"

// ErrNotExtracted is returned by Load when the SDE is missing and downloading is disabled.
var ErrNotExtracted = errors.New("sde: no extracted data and download disabled")

// Data holds the parsed parts of the SDE the industry engine reads.
type Data struct {
	Types      map[int32]*ItemType  // typeID -> type
	Groups     map[int32]*ItemGroup // groupID -> group
	Categories map[int32]string     // categoryID -> name
	Industry   *IndustryData
}

// ItemType is an EVE item type.
type ItemType struct {
	ID         int32
	Name       string
	GroupID    int32
	CategoryID int32
	Published  bool
}

// ItemGroup is group-level metadata used to classify types.
type ItemGroup struct {
	ID         int32
	Name       string
	CategoryID int32
}

// NewData returns an empty Data ready to be filled.
func NewData() *Data {
	return &Data{
		Types:      make(map[int32]*ItemType),
		Groups:     make(map[int32]*ItemGroup),
		Categories: make(map[int32]string),
		Industry:   NewIndustryData(),
	}
}

// Load downloads (if needed and allowed) and parses the SDE below dataDir.
func Load(dataDir string, download bool) (*Data, error) {
	zipPath := filepath.Join(dataDir, "sde.zip")
	extractDir := filepath.Join(dataDir, "sde")

	if _, err := os.Stat(extractDir); os.IsNotExist(err) {
		if !download {
			return nil, ErrNotExtracted
		}
		logger.Info("SDE", "Downloading data...")
		if err := downloadFile(zipPath, sdeURL); err != nil {
			return nil, fmt.Errorf("download SDE: %w", err)
		}
		logger.Info("SDE", "Extracting data...")
		if err := extractZip(zipPath, extractDir); err != nil {
			return nil, fmt.Errorf("extract SDE: %w", err)
		}
	}

	data, err := LoadDir(extractDir)
	if err != nil {
		return nil, err
	}

	logger.Section("SDE Statistics")
	logger.Stats("Categories", len(data.Categories))
	logger.Stats("Groups", len(data.Groups))
	logger.Stats("Item types", len(data.Types))
	logger.Stats("Formulas", len(data.Industry.Formulas))
	return data, nil
}

// LoadDir parses an already extracted SDE directory.
func LoadDir(dir string) (*Data, error) {
	data := NewData()

	logger.Info("SDE", "Loading categories...")
	if err := data.loadCategories(dir); err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	logger.Info("SDE", "Loading item types...")
	if err := data.loadTypes(dir); err != nil {
		return nil, err
	}
	logger.Info("SDE", "Loading industry data...")
	if err := data.Industry.loadFormulas(dir); err != nil {
		return nil, fmt.Errorf("load industry: %w", err)
	}
	return data, nil
}

// TypeName returns the English name of a type, or "" when unknown.
func (d *Data) TypeName(typeID int32) string {
	if t, ok := d.Types[typeID]; ok {
		return t.Name
	}
	return ""
}

func (d *Data) loadCategories(dir string) error {
	return readJSONL(dir, "categories", func(raw json.RawMessage) error {
		var c struct {
			Key  int32             `json:"_key"`
			Name map[string]string `json:"name"`
		}
		if err := json.Unmarshal(raw, &c); err != nil {
			return err
		}
		d.Categories[c.Key] = strings.TrimSpace(c.Name["en"])
		return nil
	})
}

func (d *Data) loadTypes(dir string) error {
	err := readJSONL(dir, "groups", func(raw json.RawMessage) error {
		var g struct {
			Key        int32             `json:"_key"`
			Name       map[string]string `json:"name"`
			CategoryID int32             `json:"categoryID"`
		}
		if err := json.Unmarshal(raw, &g); err != nil {
			return err
		}
		d.Groups[g.Key] = &ItemGroup{
			ID:         g.Key,
			Name:       strings.TrimSpace(g.Name["en"]),
			CategoryID: g.CategoryID,
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}

	// Unpublished types stay in: reaction intermediates and some materials are unpublished
	// but still appear as formula inputs.
	return readJSONL(dir, "types", func(raw json.RawMessage) error {
		var t struct {
			Key       int32             `json:"_key"`
			Name      map[string]string `json:"name"`
			Published bool              `json:"published"`
			GroupID   int32             `json:"groupID"`
		}
		if err := json.Unmarshal(raw, &t); err != nil {
			return err
		}
		name := strings.TrimSpace(t.Name["en"])
		if name == "" {
			return nil
		}
		var categoryID int32
		if g, ok := d.Groups[t.GroupID]; ok {
			categoryID = g.CategoryID
		}
		d.Types[t.Key] = &ItemType{
			ID:         t.Key,
			Name:       name,
			GroupID:    t.GroupID,
			CategoryID: categoryID,
			Published:  t.Published,
		}
		return nil
	})
}

// readJSONL finds and reads a .jsonl file by base name below dir.
// Malformed lines are skipped; a missing file is logged and treated as empty.
func readJSONL(dir, baseName string, fn func(json.RawMessage) error) error {
	var filePath string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() || filepath.Ext(info.Name()) != ".jsonl" {
			return nil
		}
		if strings.EqualFold(strings.TrimSuffix(info.Name(), ".jsonl"), baseName) {
			filePath = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return err
	}
	if filePath == "" {
		logger.Warn("SDE", fmt.Sprintf("File %s.jsonl not found, skipping", baseName))
		return nil
	}

	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(json.RawMessage(line)); err != nil {
			continue
		}
	}
	return scanner.Err()
}

func downloadFile(dst, url string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	return err
}

func extractZip(src, dst string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return fmt.Errorf("resolve extract dir: %w", err)
	}

	for _, f := range r.File {
		fpath := filepath.Join(dstAbs, f.Name)

		// zip slip: entries must stay inside dst
		if rel, err := filepath.Rel(dstAbs, fpath); err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("illegal zip entry path: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extractZipFile(f, fpath); err != nil {
			return err
		}
	}
	return nil
}

func extractZipFile(f *zip.File, fpath string) error {
	if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.Create(fpath)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}
