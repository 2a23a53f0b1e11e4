package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const (
	companyFile   = "company_info"
	productsFile  = "products"
	faqFile       = "faq"
	stopWordsFile = "stop_words"
)

var extensions = []string{".json", ".yaml", ".yml"}

// Store serves lookups over an immutable Base.
type Store struct {
	base Base
}

func NewStore(base Base) *Store {
	return &Store{base: base}
}

// Load reads the four knowledge files from dir concurrently. Each file may be
// JSON or YAML. The stop-word table is optional; a missing or unreadable one
// leaves the banned-term lists empty.
func Load(ctx context.Context, dir string, logger *slog.Logger) (*Store, error) {
	var base Base
	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		return readFile(dir, companyFile, &base.Company)
	})
	g.Go(func() error {
		products, err := readList[Product](dir, productsFile, "products")
		base.Products = products
		return err
	})
	g.Go(func() error {
		faq, err := readList[FAQEntry](dir, faqFile, "faq")
		base.FAQ = faq
		return err
	})
	g.Go(func() error {
		if err := readFile(dir, stopWordsFile, &base.Banned); err != nil {
			logger.Error("Failed to load stop words, filtering disabled", "error", err)
			base.Banned = BannedTerms{}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Info("Knowledge base loaded",
		"dir", dir,
		"products", len(base.Products),
		"faq", len(base.FAQ),
		"competitors", len(base.Banned.Competitors),
		"escalation_triggers", len(base.Banned.EscalationTriggers),
		"forbidden_topics", len(base.Banned.ForbiddenTopics),
	)
	return NewStore(base), nil
}

func (s *Store) Company() CompanyInfo { return s.base.Company }

// Banned returns the stop-word table. Callers must not modify the slices.
func (s *Store) Banned() BannedTerms { return s.base.Banned }

func readFile(dir, name string, v any) error {
	path, err := locate(dir, name)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("knowledge: read %s: %w", path, err)
	}
	if err := decode(path, data, v); err != nil {
		return fmt.Errorf("knowledge: parse %s: %w", path, err)
	}
	return nil
}

// readList accepts either a bare list or an object wrapping the list under key.
func readList[T any](dir, name, key string) ([]T, error) {
	path, err := locate(dir, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: read %s: %w", path, err)
	}

	var list []T
	if err := decode(path, data, &list); err == nil {
		return list, nil
	}

	var wrapped map[string][]T
	if err := decode(path, data, &wrapped); err != nil {
		return nil, fmt.Errorf("knowledge: parse %s: %w", path, err)
	}
	return wrapped[key], nil
}

func locate(dir, name string) (string, error) {
	for _, ext := range extensions {
		path := filepath.Join(dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("knowledge: stat %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("knowledge: %s not found in %s: %w", name, dir, fs.ErrNotExist)
}

func decode(path string, data []byte, v any) error {
	if filepath.Ext(path) == ".json" {
		return json.Unmarshal(data, v)
	}
	return yaml.Unmarshal(data, v)
}
