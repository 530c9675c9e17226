package models

// ExtractRequest points a text extractor at a stored document.
type ExtractRequest struct {
	Bucket      string
	Key         string
	ContentType string
}

// Line is one detected line of text, in document order. Confidence is a
// percentage in [0, 100].
type Line struct {
	Text       string
	Confidence float64
}
