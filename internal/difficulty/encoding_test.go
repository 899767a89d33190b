package difficulty

import (
	"testing"

	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/models"
)

func TestEncodeHistoryFormat(t *testing.T) {
	hits := []models.HitRecord{
		{ReactionTime: 3.456, Score: 2},
		{ReactionTime: 0.5, Score: 1},
	}
	got := encodeHistory(hits)
	want := "3.46,2;0.50,1"
	if got != want {
		t.Fatalf("encodeHistory = %q, want %q", got, want)
	}
}

func TestDecodeOfEncodeIsLossyAtThirdDecimal(t *testing.T) {
	hits := decodeHistory(encodeHistory([]models.HitRecord{{ReactionTime: 3.456, Score: 2}}))
	if len(hits) != 1 {
		t.Fatalf("decoded %d records, want 1", len(hits))
	}
	if hits[0].ReactionTime != 3.46 || hits[0].Score != 2 {
		t.Fatalf("decoded %+v, want {3.46 2}", hits[0])
	}
}

func TestDecodeHistorySkipsMalformedEntries(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
		want    int
	}{
		{"empty blob", "", 0},
		{"garbage entry between valid ones", "1.00,1;nonsense;2.00,2", 2},
		{"missing score", "1.00,1;3.00", 1},
		{"non-numeric fields", "abc,def;2.50,1", 1},
		{"trailing separator", "1.25,2;", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeHistory(tt.encoded); len(got) != tt.want {
				t.Fatalf("decoded %d records, want %d", len(got), tt.want)
			}
		})
	}
}
