package dataset

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// Split shuffles the records with the given seed and cuts them into train
// and test sets. The same records, ratio, and seed always produce the same
// split, so a rerun of the workshop stages identical files.
func Split(records []Record, ratio float64, seed int64) (train, test []Record, err error) {
	if ratio <= 0 || ratio >= 1 {
		return nil, nil, errors.Errorf("train ratio must be within (0, 1), got %v", ratio)
	}
	if len(records) == 0 {
		return nil, nil, errors.New("no records to split")
	}

	shuffled := make([]Record, len(records))
	copy(shuffled, records)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	cut := int(math.Round(ratio * float64(len(shuffled))))
	if cut == 0 {
		cut = 1
	}
	if cut == len(shuffled) {
		cut = len(shuffled) - 1
	}
	return shuffled[:cut], shuffled[cut:], nil
}

// FailureRate reports the fraction of records labeled as failures, used to
// sanity-check that a split did not starve either side of positives.
func FailureRate(records []Record) float64 {
	if len(records) == 0 {
		return 0
	}
	failures := 0
	for _, record := range records {
		if record.Failure {
			failures++
		}
	}
	return float64(failures) / float64(len(records))
}
