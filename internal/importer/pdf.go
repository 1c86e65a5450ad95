package importer

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

var productCode = regexp.MustCompile(`^\d{8,}$`)

func parsePDF(r io.Reader) ([]row, int, error) {
	text, err := extractPDFText(r)
	if err != nil {
		return nil, 0, err
	}
	rows, skipped := parsePriceList(strings.Split(text, "\n"))
	return rows, skipped, nil
}

func extractPDFText(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := doc.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	return buf.String(), nil
}

// parsePriceList reads the supplier price list layout: every line starting
// with "R$" is a price, preceded by the unit, the name and optionally an
// 8+ digit product code.
func parsePriceList(raw []string) ([]row, int) {
	var lines []string
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	var rows []row
	skipped := 0
	for i, line := range lines {
		if !strings.HasPrefix(line, "R$") {
			continue
		}
		if i < 2 {
			skipped++
			continue
		}
		price, err := ParsePrice(line)
		name := strings.TrimSpace(strings.ReplaceAll(lines[i-2], "PROMO", ""))
		if err != nil || name == "" || strings.HasPrefix(name, "R$") || strings.HasPrefix(lines[i-1], "R$") {
			skipped++
			continue
		}
		rw := row{Name: name, Unit: lines[i-1], Price: price, Stock: 1}
		if i >= 3 && productCode.MatchString(lines[i-3]) {
			rw.Code = lines[i-3]
		}
		rows = append(rows, rw)
	}
	return rows, skipped
}
