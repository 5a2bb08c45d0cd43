package bittorrent

// SanitizeAnnounce enforces a max and default NumWant on a parsed announce
// request in place.
func SanitizeAnnounce(r *AnnounceRequest, maxNumWant, defaultNumWant uint32) error {
	if r.NumWant > maxNumWant {
		r.NumWant = maxNumWant
	}

	if r.NumWant == 0 {
		r.NumWant = defaultNumWant
	}

	return nil
}

// SanitizeScrape enforces a max number of infohashes for a single scrape
// request in place.
func SanitizeScrape(r *ScrapeRequest, maxScrapeInfoHashes uint32) error {
	if len(r.InfoHashes) == 0 {
		return ClientError("full scrape disallowed")
	}

	if len(r.InfoHashes) > int(maxScrapeInfoHashes) {
		r.InfoHashes = r.InfoHashes[:maxScrapeInfoHashes]
	}

	return nil
}
