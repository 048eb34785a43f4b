// Package backlog reads IOSM work items from a YAML or TOML file.
//
// The file is re-read on every call so that edits made between cycles are seen
// by the next backlog fetch:
//
//	items:
//	  - id: split-billing-module
//	    description: Split billing into invoicing and payments
//	    cost: 3
//	    value: 8
//	    system: billing-api
//	    tags: [modularity]
//	  - id: drop-legacy-endpoint
//	    cost: 1
//	    value: 2
//	    done: true
//
// Items without a system belong to the default system. Done items are skipped.
package backlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rokoss21/IOSM/internal/logging"
	"github.com/rokoss21/IOSM/internal/orchestrator"
)

// maxFileSize bounds the backlog file.
const maxFileSize = 4 * 1024 * 1024

var (
	// ErrUnsupportedFormat is returned for file extensions other than .yaml, .yml and .toml.
	ErrUnsupportedFormat = errors.New("unsupported backlog format")

	// ErrInvalidItem is returned when an item has no ID or a duplicate ID.
	ErrInvalidItem = errors.New("invalid backlog item")
)

// Item is one entry of the backlog file.
type Item struct {
	ID          string   `yaml:"id" toml:"id"`
	Description string   `yaml:"description" toml:"description"`
	Cost        float64  `yaml:"cost" toml:"cost"`
	Value       float64  `yaml:"value" toml:"value"`
	System      string   `yaml:"system" toml:"system"`
	Tags        []string `yaml:"tags" toml:"tags"`
	Done        bool     `yaml:"done" toml:"done"`
}

// Document is the backlog file layout.
type Document struct {
	Items []Item `yaml:"items" toml:"items"`
}

// FileProvider implements orchestrator.BacklogProvider over a file.
type FileProvider struct {
	path          string
	defaultSystem string
	logger        *logging.Logger
}

var _ orchestrator.BacklogProvider = (*FileProvider)(nil)

// NewFileProvider creates a provider for path. The file need not exist yet.
// Unscoped items are served to defaultSystem only; an empty defaultSystem
// serves them to every system.
func NewFileProvider(path, defaultSystem string, logger *logging.Logger) (*FileProvider, error) {
	if _, err := formatOf(path); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FileProvider{path: path, defaultSystem: defaultSystem, logger: logger}, nil
}

// Path returns the backlog file path.
func (p *FileProvider) Path() string { return p.path }

// Backlog returns the open items for systemID. A missing file is an empty backlog.
func (p *FileProvider) Backlog(ctx context.Context, systemID string) ([]orchestrator.BacklogItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		p.logger.Warn(ctx, "backlog file does not exist, treating backlog as empty",
			zap.String("path", p.path), zap.String("system_id", systemID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.Open(systemID, p.defaultSystem), nil
}

// ReadFile decodes and validates a backlog file.
func ReadFile(path string) (*Document, error) {
	format, err := formatOf(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("backlog file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backlog: %w", err)
	}
	doc, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes backlog content in the given format ("yaml" or "toml").
func Parse(data []byte, format string) (*Document, error) {
	var doc Document
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse backlog: %w", err)
		}
	case "toml":
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return nil, fmt.Errorf("failed to parse backlog: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks that every item has a unique, non-empty ID.
func (d *Document) Validate() error {
	seen := make(map[string]int, len(d.Items))
	for i, item := range d.Items {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return fmt.Errorf("%w: item %d has no id", ErrInvalidItem, i+1)
		}
		if prev, dup := seen[id]; dup {
			return fmt.Errorf("%w: id %q used by items %d and %d", ErrInvalidItem, id, prev, i+1)
		}
		seen[id] = i + 1
	}
	return nil
}

// Open returns the items that are not done and apply to systemID, in file order.
// Items without a system belong to defaultSystem, or to every system when
// defaultSystem is empty.
func (d *Document) Open(systemID, defaultSystem string) []orchestrator.BacklogItem {
	var out []orchestrator.BacklogItem
	for _, item := range d.Items {
		if item.Done {
			continue
		}
		owner := item.System
		if owner == "" {
			owner = defaultSystem
		}
		if owner != "" && systemID != "" && owner != systemID {
			continue
		}
		out = append(out, orchestrator.BacklogItem{
			ID:          strings.TrimSpace(item.ID),
			Description: item.Description,
			Cost:        item.Cost,
			Value:       item.Value,
			Tags:        item.Tags,
		})
	}
	return out
}

// Systems returns the systems with open items, sorted. Items without a system
// count for defaultSystem.
func (d *Document) Systems(defaultSystem string) []string {
	seen := make(map[string]struct{})
	for _, item := range d.Items {
		if item.Done {
			continue
		}
		system := item.System
		if system == "" {
			system = defaultSystem
		}
		if system != "" {
			seen[system] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for system := range seen {
		out = append(out, system)
	}
	sort.Strings(out)
	return out
}

func formatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".toml":
		return "toml", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
	}
}
