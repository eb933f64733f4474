package interfaces

// MetadataEnricher fills display metadata for a record, asynchronously and
// best-effort. Implementations must never touch status fields.
type MetadataEnricher interface {
	EnrichAsync(videoID, youtubeID string)
}
