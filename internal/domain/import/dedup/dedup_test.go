package dedup

import (
	"math/rand"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/statement-recon/internal/domain/reconciliation"
)

func ptr(v int64) *int64 { return &v }

func tx(desc string, day int, amount int64, balance *int64) reconciliation.Transaction {
	t := reconciliation.Transaction{
		StatementID:  "STMT-1",
		Date:         time.Date(2024, time.March, day, 0, 0, 0, 0, time.UTC),
		Description:  desc,
		AmountCents:  amount,
		BalanceCents: balance,
	}
	t.Fingerprint = Fingerprint(t.StatementID, t.Date, t.Description, t.AmountCents, t.BalanceCents)
	return t
}

func TestFingerprintStable(t *testing.T) {
	date := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)
	fp := Fingerprint("STMT-1", date, "SUPERMARKET XYZ", -4530, ptr(90470))

	assert.Len(t, fp, 64)
	assert.Equal(t, fp, Fingerprint("STMT-1", date, "supermarket   xyz", -4530, ptr(90470)))
	// time of day does not change the calendar date
	assert.Equal(t, fp, Fingerprint("STMT-1", date.Add(15*time.Hour), "SUPERMARKET XYZ", -4530, ptr(90470)))
}

func TestFingerprintDistinguishesFields(t *testing.T) {
	date := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)
	base := Fingerprint("STMT-1", date, "SUPERMARKET XYZ", -4530, ptr(90470))

	variants := map[string]string{
		"statement":   Fingerprint("STMT-2", date, "SUPERMARKET XYZ", -4530, ptr(90470)),
		"date":        Fingerprint("STMT-1", date.AddDate(0, 0, 1), "SUPERMARKET XYZ", -4530, ptr(90470)),
		"description": Fingerprint("STMT-1", date, "SUPERMARKET ABC", -4530, ptr(90470)),
		"amount":      Fingerprint("STMT-1", date, "SUPERMARKET XYZ", 4530, ptr(90470)),
		"balance":     Fingerprint("STMT-1", date, "SUPERMARKET XYZ", -4530, ptr(90471)),
		"no balance":  Fingerprint("STMT-1", date, "SUPERMARKET XYZ", -4530, nil),
	}
	for name, fp := range variants {
		t.Run(name, func(t *testing.T) {
			assert.NotEqual(t, base, fp)
		})
	}
}

func TestFingerprintSeparatorInField(t *testing.T) {
	date := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)

	// joined with a bare separator both would read S|2024-03-05|X|2024-03-05|Y|-100|-
	shifted := Fingerprint("S|2024-03-05|X", date, "Y", -100, nil)
	plain := Fingerprint("S", date, "X|2024-03-05|Y", -100, nil)

	assert.NotEqual(t, shifted, plain)
}

func TestAssign(t *testing.T) {
	txs := []reconciliation.Transaction{
		{StatementID: "S", Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Description: "A", AmountCents: 1},
	}
	Assign(txs)
	assert.Equal(t, Fingerprint("S", txs[0].Date, "A", 1, nil), txs[0].Fingerprint)
}

func TestFilter(t *testing.T) {
	a := tx("A", 1, -100, nil)
	b := tx("B", 2, -200, nil)
	c := tx("C", 3, -300, nil)

	fresh, dups := Filter([]reconciliation.Transaction{a, b, c}, FingerprintSet([]string{b.Fingerprint}))
	assert.Equal(t, 1, dups)
	assert.Equal(t, []reconciliation.Transaction{a, c}, fresh)

	fresh, dups = Filter([]reconciliation.Transaction{a, a, c}, nil)
	assert.Equal(t, 1, dups)
	assert.Equal(t, []reconciliation.Transaction{a, c}, fresh)

	fresh, dups = Filter(nil, nil)
	assert.Zero(t, dups)
	assert.Empty(t, fresh)
}

func TestFilterIdenticalQuintuplesCollapse(t *testing.T) {
	// two genuine purchases with the same content are indistinguishable
	first := tx("COFFEE", 4, -350, nil)
	second := tx("COFFEE", 4, -350, nil)

	fresh, dups := Filter([]reconciliation.Transaction{first, second}, nil)
	assert.Len(t, fresh, 1)
	assert.Equal(t, 1, dups)
}

func TestFilterOrderIndependent(t *testing.T) {
	faker := gofakeit.New(7)
	var records []reconciliation.Transaction
	for i := 0; i < 50; i++ {
		records = append(records, tx(faker.Company(), 1+i%28, int64(faker.Number(-50000, 50000)), nil))
	}
	existing := FingerprintSet([]string{records[3].Fingerprint, records[17].Fingerprint})

	fresh, dups := Filter(records, existing)

	shuffled := append([]reconciliation.Transaction(nil), records...)
	rand.New(rand.NewSource(42)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	freshShuffled, dupsShuffled := Filter(shuffled, existing)

	require.Equal(t, dups, dupsShuffled)
	assert.ElementsMatch(t, fingerprints(fresh), fingerprints(freshShuffled))
}

func fingerprints(txs []reconciliation.Transaction) []string {
	out := make([]string, 0, len(txs))
	for _, t := range txs {
		out = append(out, t.Fingerprint)
	}
	return out
}
