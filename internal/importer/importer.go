// Package importer loads products into the catalog from supplier files.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/store"
)

// Format is a supported import file format.
type Format string

const (
	FormatXML Format = "xml"
	FormatPDF Format = "pdf"
)

// ErrUnsupportedFormat is returned for anything but XML or PDF.
var ErrUnsupportedFormat = errors.New("unsupported import format")

// Result counts what an import did.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// Invalidator drops cached catalog listings.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Importer upserts parsed rows into a ProductRepo.
type Importer struct {
	repo  store.ProductRepo
	cache Invalidator
}

// New returns an Importer. cache may be nil.
func New(repo store.ProductRepo, cache Invalidator) *Importer {
	return &Importer{repo: repo, cache: cache}
}

// DetectFormat picks the format from the file extension, then the content type.
func DetectFormat(filename, contentType string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xml":
		return FormatXML, nil
	case ".pdf":
		return FormatPDF, nil
	}
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "xml"):
		return FormatXML, nil
	case strings.Contains(ct, "pdf"):
		return FormatPDF, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filename)
}

// row is one parsed product line.
type row struct {
	Name  string
	Code  string
	Unit  string
	Price int64
	Stock int
}

// Import parses r as format and upserts every row.
func (im *Importer) Import(ctx context.Context, format Format, r io.Reader) (Result, error) {
	var (
		rows    []row
		skipped int
		err     error
	)
	switch format {
	case FormatXML:
		rows, skipped, err = parseXML(r)
	case FormatPDF:
		rows, skipped, err = parsePDF(r)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return Result{}, err
	}

	res := Result{Skipped: skipped}
	for _, rw := range rows {
		created, err := im.upsert(rw, format == FormatPDF)
		if err != nil {
			slog.Warn("Importer.Import: row failed", "name", rw.Name, "error", err)
			res.Skipped++
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	if im.cache != nil {
		im.cache.Invalidate(ctx)
	}
	slog.Info("Importer.Import: done", "format", format, "created", res.Created, "updated", res.Updated, "skipped", res.Skipped)
	return res, nil
}

// upsert matches by code (when byCode and the row has one), else by name.
func (im *Importer) upsert(rw row, byCode bool) (bool, error) {
	var (
		existing *models.Product
		err      error
	)
	if byCode && rw.Code != "" {
		existing, err = im.repo.FindProductByCode(rw.Code)
		if err != nil {
			return false, err
		}
	}
	if existing == nil {
		existing, err = im.repo.FindProductByName(rw.Name)
		if err != nil {
			return false, err
		}
	}

	if existing == nil {
		unit := rw.Unit
		if unit == "" {
			unit = models.DefaultUnit
		}
		_, err := im.repo.CreateProduct(models.Product{
			Code: rw.Code, Name: rw.Name, Price: rw.Price, Unit: unit, Active: true, Stock: rw.Stock,
		})
		return true, err
	}

	existing.Price = rw.Price
	existing.Active = true
	existing.Stock += rw.Stock
	if rw.Unit != "" {
		existing.Unit = rw.Unit
	}
	if existing.Code == "" && rw.Code != "" {
		existing.Code = rw.Code
	}
	return false, im.repo.UpdateProduct(*existing)
}

// ParsePrice converts "R$ 1.234,56", "12,50" or "12.5" to centavos. For
// "a/b" price pairs the larger one wins.
func ParsePrice(s string) (int64, error) {
	s = strings.ReplaceAll(s, "PROMO", "")
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "R$"))
	if s == "" {
		return 0, fmt.Errorf("empty price")
	}
	if strings.Contains(s, "/") {
		var best int64 = -1
		for _, part := range strings.Split(s, "/") {
			v, err := ParsePrice(part)
			if err != nil {
				return 0, err
			}
			if v > best {
				best = v
			}
		}
		return best, nil
	}

	s = strings.ReplaceAll(s, " ", "")
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q", s)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative price %q", s)
	}
	return int64(f*100 + 0.5), nil
}
