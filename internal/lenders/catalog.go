package lenders

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"loan-counselor/internal/domain"
)

//go:embed catalog.yaml
var builtin []byte

// Catalog is an immutable, ordered snapshot of lender records.
type Catalog struct {
	lenders []domain.LenderRecord
}

// Default returns the catalog shipped with the binary.
func Default() (*Catalog, error) {
	return Parse(builtin)
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lenders: read %q: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a YAML sequence of lender records.
func Parse(raw []byte) (*Catalog, error) {
	var records []domain.LenderRecord
	if err := yaml.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("lenders: decode catalog: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("lenders: catalog is empty")
	}
	for i, r := range records {
		if strings.TrimSpace(r.Name) == "" {
			return nil, fmt.Errorf("lenders: record %d has no name", i)
		}
	}
	return &Catalog{lenders: records}, nil
}

// Len returns the number of lenders.
func (c *Catalog) Len() int {
	return len(c.lenders)
}

// Lenders returns a copy of the records in catalog order.
func (c *Catalog) Lenders() []domain.LenderRecord {
	out := make([]domain.LenderRecord, len(c.lenders))
	for i, r := range c.lenders {
		r.KeyPoints = append([]string(nil), r.KeyPoints...)
		out[i] = r
	}
	return out
}

// Format renders every lender as a lender block, separated by a blank line.
func (c *Catalog) Format() string {
	return FormatLenders(c.lenders)
}

// FormatLenders renders lenders in the given order.
func FormatLenders(lenders []domain.LenderRecord) string {
	blocks := make([]string, 0, len(lenders))
	for _, l := range lenders {
		blocks = append(blocks, formatLender(l))
	}
	return strings.Join(blocks, "\n\n")
}

func formatLender(l domain.LenderRecord) string {
	return strings.Join([]string{
		l.Name + ":",
		"- Interest Rate: " + l.InterestRate,
		"- Maximum Amount: " + l.MaximumAmount,
		"- About: " + l.About,
		"- Key Points: " + strings.Join(l.KeyPoints, ", "),
		"- Currency: " + l.Currency,
		"- Collateral Required: " + yesNo(l.CollateralRequired),
		"- Non-Collateral Option: " + yesNo(l.NonCollateralOption),
		"- US Cosigner Required: " + yesNo(l.USCosignerRequired),
		"- Country: " + l.Country,
		"- University Country: " + l.UniversityCountry,
	}, "\n")
}

// yesNo keeps the True/False spelling the prompts have always used.
func yesNo(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
