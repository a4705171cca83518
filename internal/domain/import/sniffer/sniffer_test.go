package sniffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/statement-recon/internal/domain/import/parser"
	"github.com/FACorreiaa/statement-recon/pkg/money"
)

const internationalHeader = "BANCO BCI\n" +
	"ESTADO DE CUENTA INTERNACIONAL TARJETA DE CRÉDITO\n" +
	"NOMBRE DEL TITULAR  JUAN  ANDRÉS PÉREZ\n  N° DE TARJETA XXXX XXXX XXXX 1234\n" +
	"FECHA ESTADO DE CUENTA 15/03/2024\n"

func TestSniffInternational(t *testing.T) {
	md := Sniff([]string{internationalHeader, "2. INFORMACIÓN DE TRANSACCIONES\n"}, Options{
		FileName:      "cartola.pdf",
		DefaultFormat: parser.FormatStandard,
	})

	assert.Equal(t, "JUAN ANDRÉS PÉREZ", md.HolderName)
	require.NotNil(t, md.StatementDate)
	assert.Equal(t, time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC), *md.StatementDate)
	assert.Equal(t, parser.FormatInternational, md.FormatVersion)
	assert.True(t, md.FormatDetected)
	assert.Equal(t, "BCI_INT_JUAN_ANDRÉS_PÉREZ_15-03-2024", md.StatementID)
	assert.Equal(t, Period{Year: 2024, Month: time.March}, md.Period)
}

func TestSniffDeclaredFormatWins(t *testing.T) {
	md := Sniff([]string{internationalHeader}, Options{DeclaredFormat: "v1"})
	assert.Equal(t, parser.FormatStandard, md.FormatVersion)
	assert.False(t, md.FormatDetected)
}

func TestSniffDefaultFormat(t *testing.T) {
	md := Sniff([]string{"05/03 SUPERMARKET XYZ -45.30 904.70"}, Options{DefaultFormat: "european"})
	assert.Equal(t, parser.FormatEuropean, md.FormatVersion)

	md = Sniff([]string{"05/03 SUPERMARKET XYZ -45.30 904.70"}, Options{})
	assert.Equal(t, parser.FormatStandard, md.FormatVersion)
}

func TestSniffStatementIDFallbacks(t *testing.T) {
	now := time.Date(2025, time.July, 2, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		pages  []string
		opts   Options
		id     string
		period Period
	}{
		{
			name:   "caller period",
			pages:  []string{"05/03 SUPERMARKET XYZ -45.30 904.70"},
			opts:   Options{FileName: "uploads/march.txt", Period: Period{Year: 2024, Month: time.March}, Now: now},
			id:     "march_2024-03",
			period: Period{Year: 2024, Month: time.March},
		},
		{
			name:   "statement date without holder",
			pages:  []string{"FECHA ESTADO DE CUENTA 31/01/2024\n"},
			opts:   Options{FileName: "jan.pdf", Now: now},
			id:     "jan_2024-01",
			period: Period{Year: 2024, Month: time.January},
		},
		{
			name:   "file name only",
			pages:  []string{"nothing useful"},
			opts:   Options{FileName: "statement.pdf", Now: now},
			id:     "statement.pdf",
			period: Period{Year: 2025, Month: time.July},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := Sniff(tt.pages, tt.opts)
			assert.Equal(t, tt.id, md.StatementID)
			assert.Equal(t, tt.period, md.Period)
		})
	}
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("2024-03")
	require.NoError(t, err)
	assert.Equal(t, Period{Year: 2024, Month: time.March}, p)
	assert.Equal(t, "2024-03", p.String())

	for _, bad := range []string{"", "2024-13", "2024/03", "03-2024", "2024-3"} {
		_, err := ParsePeriod(bad)
		assert.ErrorIs(t, err, ErrInvalidPeriod, bad)
	}
}

func TestDetectNumberFormat(t *testing.T) {
	format, confidence := DetectNumberFormat([]string{"01/03/24 AIRBNB US 1.234,56 120,00\n02/03/24 UBER NL 15,20"})
	assert.Equal(t, money.FormatEuropean, format)
	assert.Equal(t, 1.0, confidence)

	format, confidence = DetectNumberFormat([]string{"05/03 SUPERMARKET -45.30 1,904.70"})
	assert.Equal(t, money.FormatUS, format)
	assert.Equal(t, 1.0, confidence)

	_, confidence = DetectNumberFormat([]string{"no amounts"})
	assert.Zero(t, confidence)
}
