package difficulty

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/models"
)

// The hit history is stored as "time,score" pairs joined by ';' with two
// decimal places on the time. Existing installs already hold blobs in this
// format, so it must be matched exactly.

func encodeHistory(hits []models.HitRecord) string {
	var b strings.Builder
	for i, hit := range hits {
		if i > 0 {
			b.WriteByte(';')
		}
		fmt.Fprintf(&b, "%.2f,%d", hit.ReactionTime, hit.Score)
	}
	return b.String()
}

// decodeHistory skips malformed entries rather than failing the read path.
func decodeHistory(encoded string) []models.HitRecord {
	if encoded == "" {
		return nil
	}
	var hits []models.HitRecord
	for _, entry := range strings.Split(encoded, ";") {
		timeStr, scoreStr, ok := strings.Cut(entry, ",")
		if !ok {
			continue
		}
		reactionTime, err := strconv.ParseFloat(timeStr, 64)
		if err != nil {
			continue
		}
		score, err := strconv.Atoi(scoreStr)
		if err != nil {
			continue
		}
		hits = append(hits, models.HitRecord{ReactionTime: reactionTime, Score: score})
	}
	return hits
}
