package dedup

import "github.com/FACorreiaa/statement-recon/internal/domain/reconciliation"

// Filter keeps the records whose fingerprint is neither in existing nor
// repeated earlier in the same batch. Input order is preserved.
func Filter(records []reconciliation.Transaction, existing map[string]struct{}) ([]reconciliation.Transaction, int) {
	seen := make(map[string]struct{}, len(records))
	fresh := make([]reconciliation.Transaction, 0, len(records))
	duplicates := 0

	for _, r := range records {
		if _, ok := existing[r.Fingerprint]; ok {
			duplicates++
			continue
		}
		if _, ok := seen[r.Fingerprint]; ok {
			duplicates++
			continue
		}
		seen[r.Fingerprint] = struct{}{}
		fresh = append(fresh, r)
	}
	return fresh, duplicates
}

// FingerprintSet builds a lookup set
func FingerprintSet(fingerprints []string) map[string]struct{} {
	set := make(map[string]struct{}, len(fingerprints))
	for _, fp := range fingerprints {
		set[fp] = struct{}{}
	}
	return set
}
