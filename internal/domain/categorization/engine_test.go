package categorization

import (
	"fmt"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRuleSet(rules ...Rule) *RuleSet {
	return &RuleSet{Rules: rules}
}

func TestEngine_Match(t *testing.T) {
	engine := NewEngine(testRuleSet(
		Rule{Pattern: "SUPERMARKET", Category: "Groceries", MatchType: MatchTypeContains},
		Rule{Pattern: "UBER EATS", Category: "comida", MatchType: MatchTypeContains},
		Rule{Pattern: "UBER", Category: "Uber", MatchType: MatchTypeContains},
		Rule{Pattern: `^GOOGLE\s*\*?\s*ADS`, Category: "Google Ads", MatchType: MatchTypeRegex},
		Rule{Pattern: "pago automatico", Category: "otro", MatchType: MatchTypeExact},
	))

	tests := []struct {
		name        string
		description string
		want        string
	}{
		{"contains", "SUPERMARKET XYZ", "Groceries"},
		{"case insensitive", "supermarket xyz", "Groceries"},
		{"earlier rule wins", "UBER EATS SANTIAGO", "comida"},
		{"later rule still matches alone", "UBER TRIP HELP.UBER.COM", "Uber"},
		{"regex", "GOOGLE *ADS 123456", "Google Ads"},
		{"regex anchored", "PAYPAL GOOGLE ADS", DefaultCategory},
		{"exact folds accents and spaces", "  Pago   Automático ", "otro"},
		{"exact requires whole description", "PAGO AUTOMATICO TARJETA", DefaultCategory},
		{"no match", "RANDOM MERCHANT", DefaultCategory},
		{"empty", "", DefaultCategory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.Categorize(tt.description))
		})
	}
}

func TestEngine_FirstMatchWinsAcrossMatchTypes(t *testing.T) {
	engine := NewEngine(testRuleSet(
		Rule{Pattern: "AIR", Category: "first", MatchType: MatchTypeRegex},
		Rule{Pattern: "AIRBNB", Category: "second", MatchType: MatchTypeContains},
	))
	m := engine.Match("AIRBNB * HMXYZ")
	require.NotNil(t, m)
	assert.Equal(t, 0, m.RuleIndex)
	assert.Equal(t, "first", m.Rule.Category)

	engine.Replace(testRuleSet(
		Rule{Pattern: "AIRBNB", Category: "second", MatchType: MatchTypeContains},
		Rule{Pattern: "AIR", Category: "first", MatchType: MatchTypeRegex},
	))
	m = engine.Match("AIRBNB * HMXYZ")
	require.NotNil(t, m)
	assert.Equal(t, 0, m.RuleIndex)
	assert.Equal(t, "second", m.Rule.Category)
}

func TestEngine_DuplicatePatternsKeepFirstRule(t *testing.T) {
	engine := NewEngine(testRuleSet(
		Rule{Pattern: "HOTEL", Category: "alojamiento", MatchType: MatchTypeContains},
		Rule{Pattern: "hotel", Category: "otro", MatchType: MatchTypeContains},
	))
	assert.Equal(t, "alojamiento", engine.Categorize("HOTEL LISBOA"))
}

func TestEngine_RandomDescriptions(t *testing.T) {
	faker := gofakeit.New(42)
	engine := NewEngine(testRuleSet(
		Rule{Pattern: "ZQXJ", Category: "marked", MatchType: MatchTypeContains},
	))

	for i := 0; i < 200; i++ {
		desc := fmt.Sprintf("%s %s %d", faker.Company(), faker.City(), faker.Number(1000, 9999))
		assert.Equal(t, DefaultCategory, engine.Categorize(desc), desc)
		assert.Equal(t, "marked", engine.Categorize(desc+" ZQXJ"), desc)
	}
}

func TestEngine_CategorizeBatch(t *testing.T) {
	rs, err := DefaultRules()
	require.NoError(t, err)
	engine := NewEngine(rs)

	got := engine.CategorizeBatch([]string{
		"UBER TRIP",
		"AIRBNB * HM4X2",
		"SHUTTERSTOCK",
		"COPEC LAS CONDES",
		"LOCAL STORE",
	})
	assert.Equal(t, []string{"Uber", "Airbnb", "Shutterstock", "combustible", DefaultCategory}, got)
	assert.Contains(t, engine.Categories(), "Facebook Ads")
}

func TestEngine_ReplaceConcurrentWithMatch(t *testing.T) {
	engine := NewEngine(testRuleSet(Rule{Pattern: "UBER", Category: "a", MatchType: MatchTypeContains}))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			c := engine.Categorize("UBER TRIP")
			assert.True(t, c == "a" || c == "b", c)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			engine.Replace(testRuleSet(Rule{Pattern: "UBER", Category: "b", MatchType: MatchTypeContains}))
		}
	}()
	wg.Wait()

	assert.Equal(t, "b", engine.Categorize("UBER TRIP"))
	assert.Equal(t, 1, engine.RuleCount())
}

func TestEngine_ConcurrentCategorizeBatch(t *testing.T) {
	engine := NewEngine(testRuleSet(
		Rule{Pattern: "SUPERMARKET", Category: "Groceries", MatchType: MatchTypeContains},
		Rule{Pattern: "UBER", Category: "Uber", MatchType: MatchTypeContains},
	))
	want := []string{"Groceries", "Uber"}

	const workers, iterations = 8, 2000
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wrong int
	)
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				got := engine.CategorizeBatch([]string{"SUPERMARKET XYZ", "UBER TRIP"})
				if got[0] != want[0] || got[1] != want[1] {
					mu.Lock()
					wrong++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, wrong)
}

func TestEngine_EmptyRuleSet(t *testing.T) {
	engine := NewEngine(nil)
	assert.Equal(t, DefaultCategory, engine.Categorize("ANYTHING"))
	assert.Nil(t, engine.Match("ANYTHING"))
	assert.Empty(t, engine.Categories())
}
