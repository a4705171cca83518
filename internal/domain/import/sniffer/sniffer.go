// Package sniffer reads document-level metadata from statement text: the card
// holder, the statement date, the format version and the statement identity.
// It runs once per document, never per row.
package sniffer

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/FACorreiaa/statement-recon/internal/domain/import/parser"
	"github.com/FACorreiaa/statement-recon/pkg/fold"
	"github.com/FACorreiaa/statement-recon/pkg/money"
)

// Markers that identify the international statement
var internationalMarkers = []string{
	"ESTADO DE CUENTA INTERNACIONAL",
	"INFORMACION DE TRANSACCIONES",
}

var (
	holderRe        = regexp.MustCompile(`NOMBRE DEL TITULAR\s+([A-ZÁÉÍÓÚÑÜ ]+?)\s+N[°º] DE TARJETA`)
	statementDateRe = regexp.MustCompile(`FECHA ESTADO DE CUENTA\s+(\d{2}/\d{2}/\d{4})`)
	amountLikeRe    = regexp.MustCompile(`-?\d[\d.,]*[.,]\d{2}\b`)
	periodRe        = regexp.MustCompile(`^(\d{4})-(\d{2})$`)
)

// ErrInvalidPeriod is returned by ParsePeriod for anything but YYYY-MM
var ErrInvalidPeriod = errors.New("invalid period, expected YYYY-MM")

// Period is a statement month
type Period struct {
	Year  int
	Month time.Month
}

// ParsePeriod parses "2024-03"
func ParsePeriod(s string) (Period, error) {
	m := periodRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return Period{Year: year, Month: time.Month(month)}, nil
}

// String renders YYYY-MM
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// IsZero reports whether the period is unset
func (p Period) IsZero() bool {
	return p.Year == 0
}

// Options carries what the caller knows about the upload
type Options struct {
	FileName string
	// DeclaredFormat wins over detection when set
	DeclaredFormat string
	// DefaultFormat applies when nothing is declared or detected
	DefaultFormat string
	// Period is used when the statement date is missing
	Period Period
	// Now is the upload time, the last period fallback
	Now time.Time
}

// Metadata is what the sniffer learned about a document
type Metadata struct {
	HolderName    string
	StatementDate *time.Time
	FormatVersion string
	StatementID   string
	Period        Period
	// FormatDetected is false when the version came from the caller or the default
	FormatDetected bool
}

// Sniff inspects the full text of a document
func Sniff(pages []string, opts Options) Metadata {
	text := strings.Join(pages, "\n")
	folded := fold.Upper(text)

	var md Metadata
	if m := holderRe.FindStringSubmatch(strings.ToUpper(text)); m != nil {
		md.HolderName = strings.Join(strings.Fields(m[1]), " ")
	}
	if m := statementDateRe.FindStringSubmatch(folded); m != nil {
		if d, err := time.Parse("02/01/2006", m[1]); err == nil {
			md.StatementDate = &d
		}
	}

	md.FormatVersion, md.FormatDetected = detectFormat(folded, opts)

	periodKnown := true
	switch {
	case md.StatementDate != nil:
		md.Period = Period{Year: md.StatementDate.Year(), Month: md.StatementDate.Month()}
	case !opts.Period.IsZero():
		md.Period = opts.Period
	default:
		periodKnown = false
		now := opts.Now
		if now.IsZero() {
			now = time.Now()
		}
		md.Period = Period{Year: now.Year(), Month: now.Month()}
	}

	md.StatementID = statementID(md, opts.FileName, periodKnown)
	return md
}

func detectFormat(folded string, opts Options) (string, bool) {
	if v := strings.TrimSpace(opts.DeclaredFormat); v != "" {
		if l, err := parser.LayoutFor(v); err == nil {
			return l.Name, false
		}
		return v, false
	}
	for _, marker := range internationalMarkers {
		if strings.Contains(folded, marker) {
			return parser.FormatInternational, true
		}
	}
	if opts.DefaultFormat != "" {
		if l, err := parser.LayoutFor(opts.DefaultFormat); err == nil {
			return l.Name, false
		}
	}
	return parser.FormatStandard, false
}

func statementID(md Metadata, fileName string, periodKnown bool) string {
	if md.HolderName != "" && md.StatementDate != nil {
		return fmt.Sprintf("BCI_INT_%s_%s",
			strings.Join(strings.Fields(md.HolderName), "_"),
			md.StatementDate.Format("02-01-2006"))
	}

	base := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "statement"
	}
	if periodKnown {
		return base + "_" + md.Period.String()
	}
	if fileName == "" {
		return base
	}
	return filepath.Base(fileName)
}

// DetectNumberFormat guesses the decimal convention of the amounts printed in
// the document. The second value is the share of amount-like tokens that
// agree with the guess; 0 means nothing was found.
func DetectNumberFormat(pages []string) (money.NumberFormat, float64) {
	european, us := 0, 0
	for _, page := range pages {
		for _, tok := range amountLikeRe.FindAllString(page, -1) {
			switch analyzeAmountFormat(tok) {
			case 1:
				european++
			case -1:
				us++
			}
		}
	}

	total := european + us
	if total == 0 {
		return money.FormatUS, 0
	}
	if european > us {
		return money.FormatEuropean, float64(european) / float64(total)
	}
	return money.FormatUS, float64(us) / float64(total)
}

// analyzeAmountFormat returns: >0 for European, <0 for US, 0 for ambiguous
func analyzeAmountFormat(val string) int {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == ',' || r == '.' {
			return r
		}
		return -1
	}, val)
	if cleaned == "" {
		return 0
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		// both present: the last one is the decimal separator
		if lastComma > lastDot {
			return 1
		}
		return -1
	case lastComma >= 0:
		if len(cleaned)-lastComma-1 == 2 {
			return 1
		}
	case lastDot >= 0:
		if len(cleaned)-lastDot-1 == 2 {
			return -1
		}
	}
	return 0
}
