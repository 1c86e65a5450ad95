package importer

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type xmlCatalog struct {
	XMLName  xml.Name     `xml:"produtos"`
	Produtos []xmlProduct `xml:"produto"`
}

type xmlProduct struct {
	Nome       string `xml:"nome"`
	Preco      string `xml:"preco"`
	Quantidade string `xml:"quantidade"`
}

func parseXML(r io.Reader) ([]row, int, error) {
	var doc xmlCatalog
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, 0, fmt.Errorf("decode xml: %w", err)
	}
	var rows []row
	skipped := 0
	for _, p := range doc.Produtos {
		name := strings.TrimSpace(p.Nome)
		price, err := ParsePrice(p.Preco)
		if name == "" || err != nil {
			skipped++
			continue
		}
		qty, _ := strconv.Atoi(strings.TrimSpace(p.Quantidade))
		if qty < 0 {
			qty = 0
		}
		rows = append(rows, row{Name: name, Price: price, Stock: qty})
	}
	return rows, skipped, nil
}
