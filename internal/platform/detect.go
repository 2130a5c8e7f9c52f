package platform

import "strings"

// Fixed confidence per signal type. A URL match is near-certain; content
// fingerprints are suggestive only. URL always dominates.
const (
	urlConfidence         = 0.95
	fingerprintConfidence = 0.70
)

// Detect guesses which platform a piece of content or URL came from.
// Returns the platform name and a confidence in [0,1], or ("", 0) when
// nothing matched. URL pattern matches dominate content fingerprints; when
// only fingerprints match, the platform with the most fingerprint hits wins.
func Detect(url, contentSample string) (Platform, float64) {
	lowerURL := strings.ToLower(url)
	if lowerURL != "" {
		for _, cfg := range registry {
			for _, pattern := range cfg.URLPatterns {
				if strings.Contains(lowerURL, pattern) {
					return cfg.Name, urlConfidence
				}
			}
		}
	}

	if contentSample == "" {
		return "", 0
	}

	lowerSample := strings.ToLower(contentSample)
	var (
		best     Platform
		bestHits int
	)
	for _, cfg := range registry {
		hits := 0
		for _, fp := range cfg.ContentFingerprints {
			if strings.Contains(lowerSample, strings.ToLower(fp)) {
				hits++
			}
		}
		if hits > bestHits {
			best = cfg.Name
			bestHits = hits
		}
	}
	if bestHits == 0 {
		return "", 0
	}
	return best, fingerprintConfidence
}
