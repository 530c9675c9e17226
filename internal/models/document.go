package models

// Record is the single evolving ledger row for an uploaded document.
// It is keyed by (DocumentID, UploadTimestamp) and mutated once per stage.
type Record struct {
	DocumentID      string          `json:"documentId" firestore:"documentId"`
	UploadTimestamp int64           `json:"uploadTimestamp" firestore:"uploadTimestamp"`
	FileName        string          `json:"fileName" firestore:"fileName"`
	StorageKey      string          `json:"storageKey" firestore:"storageKey"`
	ContentType     string          `json:"contentType,omitempty" firestore:"contentType,omitempty"`
	Status          Status          `json:"status" firestore:"status"`
	OCRResult       *OCRResult      `json:"ocrResult,omitempty" firestore:"ocrResult,omitempty"`
	Classification  *Classification `json:"classification,omitempty" firestore:"classification,omitempty"`
	Summary         *Summary        `json:"summary,omitempty" firestore:"summary,omitempty"`
	Failure         *Failure        `json:"failure,omitempty" firestore:"failure,omitempty"`
}

// RecordKey is the immutable identity of a Record.
type RecordKey struct {
	DocumentID      string
	UploadTimestamp int64
}

// Key returns the identity of the record.
func (r Record) Key() RecordKey {
	return RecordKey{DocumentID: r.DocumentID, UploadTimestamp: r.UploadTimestamp}
}

// Clone returns a copy that shares no pointers with r.
func (r Record) Clone() Record {
	out := r
	if r.OCRResult != nil {
		v := *r.OCRResult
		out.OCRResult = &v
	}
	if r.Classification != nil {
		v := *r.Classification
		out.Classification = &v
	}
	if r.Summary != nil {
		v := *r.Summary
		out.Summary = &v
	}
	if r.Failure != nil {
		v := *r.Failure
		out.Failure = &v
	}
	return out
}

// OCRResult is written once by the extraction stage.
type OCRResult struct {
	ExtractedText string  `json:"extractedText" firestore:"extractedText"`
	Confidence    float64 `json:"confidence" firestore:"confidence"`
	ProcessedAt   int64   `json:"processedAt" firestore:"processedAt"`
}

// Classification is written once by the classification stage.
type Classification struct {
	Category    string  `json:"category" firestore:"category"`
	Confidence  float64 `json:"confidence" firestore:"confidence"`
	ProcessedAt int64   `json:"processedAt" firestore:"processedAt"`
}

// Summary is written once by the summarization stage.
type Summary struct {
	Text        string `json:"text" firestore:"text"`
	ProcessedAt int64  `json:"processedAt" firestore:"processedAt"`
}

// Failure flags a stage that gave up on the record. The status is left at
// the last stage that completed.
type Failure struct {
	Stage    Stage  `json:"stage" firestore:"stage"`
	Message  string `json:"message" firestore:"message"`
	FailedAt int64  `json:"failedAt" firestore:"failedAt"`
}

// Sorts newest upload first.
type ByNewest []Record

func (s ByNewest) Len() int           { return len(s) }
func (s ByNewest) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s ByNewest) Less(i, j int) bool { return s[i].UploadTimestamp > s[j].UploadTimestamp }
