package transfer

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/cardbook/internal/model"
)

var exportTime = time.Date(2025, 3, 10, 9, 15, 30, 0, time.UTC)

func sampleCards() []model.Card {
	cardID := uuid.MustParse("6f1c2a64-8c1e-4b52-9a55-16f1a0b7c001")
	used := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	terms := "Enrollment required"

	return []model.Card{
		{
			ID:       cardID,
			CardType: "American Express Gold",
			Nickname: "Gold, personal",
			Issuer:   "American Express",
			Network:  "Amex",
			Variant:  "Gold",
			AddedAt:  time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC),
			Credits: []model.Credit{
				{
					ID:             uuid.MustParse("6f1c2a64-8c1e-4b52-9a55-16f1a0b7c101"),
					CardID:         cardID,
					Name:           "Dining Credit",
					FrequencyLabel: "Monthly",
					Frequency:      model.FrequencyMonthly,
					Amount:         decimal.RequireFromString("10"),
					Currency:       "USD",
					Category:       "Dining",
					RenewalDate:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
					ExpirationDate: time.Date(2025, 3, 31, 23, 59, 59, 0, time.UTC),
					IsUsed:         true,
					UsedAt:         &used,
					Terms:          &terms,
				},
				{
					ID:             uuid.MustParse("6f1c2a64-8c1e-4b52-9a55-16f1a0b7c102"),
					CardID:         cardID,
					Name:           "Resy Credit",
					FrequencyLabel: "Semi-Annual",
					Frequency:      model.FrequencySemiAnnual,
					Amount:         decimal.RequireFromString("50.25"),
					Currency:       "USD",
					Category:       "Dining",
					RenewalDate:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
					ExpirationDate: time.Date(2025, 6, 30, 23, 59, 59, 0, time.UTC),
				},
			},
		},
	}
}

func testExporter() Exporter {
	return Exporter{
		AppVersion:      "1.2.0",
		DatabaseVersion: "2025.1",
		Location:        time.UTC,
		Now:             func() time.Time { return exportTime },
	}
}

type stubSource struct {
	credits map[string][]model.Credit
}

func (s stubSource) CreditsForCardType(cardType string) []model.Credit {
	src := s.credits[cardType]
	out := make([]model.Credit, len(src))
	copy(out, src)
	return out
}

func TestJSONExportLayout(t *testing.T) {
	data, err := testExporter().JSON(sampleCards())
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, `"version": "1.0.0"`)
	assert.Contains(t, text, `"exportDate": "2025-03-10T09:15:30Z"`)
	assert.Contains(t, text, `"exportFormat": "JSON"`)
	assert.Contains(t, text, `"databaseVersion": "2025.1"`)
	assert.Contains(t, text, `"amount": 50.25`)
	assert.Contains(t, text, `"usedAt": "2025-03-05T12:00:00Z"`)
	assert.NotContains(t, text, `"description"`)

	assert.Less(t, strings.Index(text, `"exportDate"`), strings.Index(text, `"metadata"`))
	assert.Less(t, strings.Index(text, `"metadata"`), strings.Index(text, `"userCards"`))
	assert.Less(t, strings.Index(text, `"userCards"`), strings.Index(text, `"version"`))

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	meta := generic["metadata"].(map[string]any)
	assert.EqualValues(t, 1, meta["totalCards"])
	assert.EqualValues(t, 2, meta["totalCredits"])
}

func TestJSONRoundTrip(t *testing.T) {
	cards := sampleCards()
	data, err := testExporter().JSON(cards)
	require.NoError(t, err)

	summary, err := Importer{Location: time.UTC}.JSON(data)
	require.NoError(t, err)
	assert.Empty(t, summary.Warnings)
	assert.Equal(t, 1, summary.CardsImported)
	assert.Equal(t, 2, summary.CreditsImported)

	got := summary.Cards[0]
	want := cards[0]
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Nickname, got.Nickname)
	assert.True(t, want.AddedAt.Equal(got.AddedAt))
	require.Len(t, got.Credits, 2)

	for i := range want.Credits {
		w, g := want.Credits[i], got.Credits[i]
		assert.Equal(t, w.ID, g.ID)
		assert.Equal(t, want.ID, g.CardID)
		assert.Equal(t, w.FrequencyLabel, g.FrequencyLabel)
		assert.Equal(t, w.Frequency, g.Frequency)
		assert.True(t, w.Amount.Equal(g.Amount), "amount %s != %s", w.Amount, g.Amount)
		assert.True(t, w.RenewalDate.Equal(g.RenewalDate))
		assert.True(t, w.ExpirationDate.Equal(g.ExpirationDate))
		assert.Equal(t, w.IsUsed, g.IsUsed)
		assert.Equal(t, w.Terms, g.Terms)
	}
	require.NotNil(t, got.Credits[0].UsedAt)
	assert.True(t, got.Credits[0].UsedAt.Equal(*want.Credits[0].UsedAt))
}

func TestJSONImportErrors(t *testing.T) {
	valid, err := testExporter().JSON(sampleCards())
	require.NoError(t, err)

	mutate := func(fn func(doc map[string]any)) []byte {
		var doc map[string]any
		require.NoError(t, json.Unmarshal(valid, &doc))
		fn(doc)
		out, err := json.Marshal(doc)
		require.NoError(t, err)
		return out
	}
	firstCard := func(doc map[string]any) map[string]any {
		return doc["userCards"].([]any)[0].(map[string]any)
	}

	tests := []struct {
		name   string
		data   []byte
		want   error
		detail string
	}{
		{name: "truncated", data: valid[:len(valid)/2], want: ErrCorruptedData},
		{name: "not an object", data: []byte(`[1, 2]`), want: ErrInvalidFormat},
		{name: "binary", data: []byte{0xff, 0xfe, 0x00}, want: ErrFileReadError},
		{
			name: "missing version",
			data: mutate(func(doc map[string]any) { delete(doc, "version") }),
			want: ErrMissingRequiredFields,
		},
		{
			name: "missing credit amount",
			data: mutate(func(doc map[string]any) {
				delete(firstCard(doc)["credits"].([]any)[0].(map[string]any), "amount")
			}),
			want: ErrMissingRequiredFields,
		},
		{
			name: "wrong type",
			data: mutate(func(doc map[string]any) { firstCard(doc)["nickname"] = 42 }),
			want: ErrInvalidFormat,
		},
		{
			name: "version 2",
			data: mutate(func(doc map[string]any) { doc["version"] = "2.0.0" }),
			want: ErrUnsupportedVersion,
		},
		{
			name:   "card count mismatch",
			data:   mutate(func(doc map[string]any) { doc["metadata"].(map[string]any)["totalCards"] = 3 }),
			want:   ErrValidationFailed,
			detail: "Card count mismatch",
		},
		{
			name:   "credit count mismatch",
			data:   mutate(func(doc map[string]any) { doc["metadata"].(map[string]any)["totalCredits"] = 7 }),
			want:   ErrValidationFailed,
			detail: "Credit count mismatch",
		},
		{
			name:   "empty nickname",
			data:   mutate(func(doc map[string]any) { firstCard(doc)["nickname"] = "" }),
			want:   ErrValidationFailed,
			detail: "Card missing required fields",
		},
		{
			name: "negative amount",
			data: mutate(func(doc map[string]any) {
				firstCard(doc)["credits"].([]any)[1].(map[string]any)["amount"] = -5
			}),
			want:   ErrValidationFailed,
			detail: "Credit 'Resy Credit' has invalid data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Importer{}.JSON(tt.data)
			require.Error(t, err)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want kind %v", err, tt.want.(*ImportError).Kind)
			}
			if tt.detail != "" {
				var ie *ImportError
				require.True(t, errors.As(err, &ie))
				assert.Equal(t, tt.detail, ie.Detail)
			}
		})
	}
}

func TestJSONImportSkipsBadDates(t *testing.T) {
	valid, err := testExporter().JSON(sampleCards())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(valid, &doc))
	card := doc["userCards"].([]any)[0].(map[string]any)
	card["credits"].([]any)[1].(map[string]any)["renewalDate"] = "March 1st"
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	summary, err := Importer{}.JSON(data)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CardsImported)
	assert.Equal(t, 1, summary.CreditsImported)
	assert.Equal(t, []string{"Invalid date format for credit 'Resy Credit'"}, summary.Warnings)

	card["addedAt"] = "yesterday"
	data, err = json.Marshal(doc)
	require.NoError(t, err)

	summary, err = Importer{}.JSON(data)
	require.NoError(t, err)
	assert.Zero(t, summary.CardsImported)
	assert.Contains(t, summary.Warnings, "Invalid date format for card 'Gold, personal'")
}

func TestCardsCSV(t *testing.T) {
	data, err := testExporter().CardsCSV(sampleCards())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Card ID,Card Type,Nickname,Issuer,Network,Variant,Added Date,Total Credits,Used Credits,Available Credits", lines[0])
	assert.Equal(t, `6f1c2a64-8c1e-4b52-9a55-16f1a0b7c001,American Express Gold,"Gold, personal",American Express,Amex,Gold,2025-01-02,2,1,1`, lines[1])
}

func TestCreditsCSV(t *testing.T) {
	data, err := testExporter().CreditsCSV(sampleCards())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Credit ID,Card ID,Card Nickname,Credit Name,Amount,Currency,Category,Frequency,Renewal Date,Expiration Date,Is Used,Used Date", lines[0])
	assert.Equal(t, `6f1c2a64-8c1e-4b52-9a55-16f1a0b7c101,6f1c2a64-8c1e-4b52-9a55-16f1a0b7c001,"Gold, personal",Dining Credit,10.00,USD,Dining,Monthly,2025-03-01,2025-03-31,true,2025-03-05`, lines[1])
	assert.True(t, strings.HasSuffix(lines[2], ",2025-01-01,2025-06-30,false,"))
}

func TestCSVImportUsesCatalogCredits(t *testing.T) {
	exported, err := testExporter().CardsCSV(sampleCards())
	require.NoError(t, err)

	source := stubSource{credits: map[string][]model.Credit{
		"American Express Gold": {{ID: uuid.New(), Name: "Uber Cash", Frequency: model.FrequencyMonthly}},
	}}
	data := string(exported) + "short,row\nx,Unknown,Nick,Bank,Visa,Basic,not-a-date,0,0,0\n"

	summary, err := Importer{Location: time.UTC}.CSV([]byte(data), source)
	require.NoError(t, err)
	require.Equal(t, 1, summary.CardsImported)
	assert.Equal(t, 1, summary.CreditsImported)
	assert.Equal(t, []string{"Line 3: Insufficient data fields", "Line 4: Invalid date format"}, summary.Warnings)

	card := summary.Cards[0]
	assert.NotEqual(t, sampleCards()[0].ID, card.ID)
	assert.Equal(t, "Gold, personal", card.Nickname)
	assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), card.AddedAt)
	require.Len(t, card.Credits, 1)
	assert.Equal(t, "Uber Cash", card.Credits[0].Name)
	assert.Equal(t, card.ID, card.Credits[0].CardID)
}

func TestCSVImportHeaderOnly(t *testing.T) {
	_, err := Importer{}.CSV([]byte("Card ID,Card Type\n"), nil)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		data string
		want Format
		ok   bool
	}{
		{"json object", `{"version": "1.0.0"}`, FormatJSON, true},
		{"json array", `[1,2]`, FormatJSON, true},
		{"csv", "a,b\nc,d\n", FormatCSV, true},
		{"single line", "a,b", "", false},
		{"plain text", "hello\nworld", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectFormat([]byte(tt.data))
			if got != tt.want || ok != tt.ok {
				t.Fatalf("DetectFormat() = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "MyCardBook_Export_2025-03-10_09-15-30.json", Filename(FormatJSON, exportTime))
	assert.Equal(t, "MyCardBook_Cards_2025-03-10_09-15-30.csv", Filename(FormatCSVCards, exportTime))
	assert.Equal(t, "MyCardBook_Credits_2025-03-10_09-15-30.csv", Filename(FormatCSVCredits, exportTime))
	assert.Equal(t, "MyCardBook_Export_2025-03-10_09-15-30.txt", Filename("xml", exportTime))
}

func TestImportAutoDetect(t *testing.T) {
	data, err := testExporter().JSON(sampleCards())
	require.NoError(t, err)

	summary, err := Importer{}.Import("", data, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CardsImported)

	_, err = Importer{}.Import("", []byte("nothing here"), nil)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}
