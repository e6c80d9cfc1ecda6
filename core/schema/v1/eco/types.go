package eco

// SpecVersion is written into every manifest produced by this module.
const SpecVersion = "1.0.0"

const ManifestFileName = "manifest.json"

type Manifest struct {
	SpecVersion  string              `json:"specVersion"`
	ProjectID    string              `json:"projectId"`
	Title        string              `json:"title"`
	Description  string              `json:"description,omitempty"`
	CreatedAt    string              `json:"createdAt"`
	Author       Author              `json:"author"`
	Assets       []Asset             `json:"assets"`
	Segments     []Segment           `json:"segments"`
	OperationLog []OperationLogEntry `json:"operationLog"`
	Metadata     *Metadata           `json:"metadata,omitempty"`
	Signatures   []Signature         `json:"signatures"`
}

type Author struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Asset describes content that is referenced by hash and never embedded.
type Asset struct {
	ID        string   `json:"id"`
	MediaType string   `json:"mediaType"`
	FileName  string   `json:"fileName"`
	Duration  *float64 `json:"duration,omitempty"`
	Width     *int     `json:"width,omitempty"`
	Height    *int     `json:"height,omitempty"`
	Notes     string   `json:"notes,omitempty"`
	SHA256    string   `json:"sha256"`
}

type Segment struct {
	ID               string   `json:"id"`
	AssetID          string   `json:"assetId"`
	StartTime        float64  `json:"startTime"`
	EndTime          float64  `json:"endTime"`
	ProjectStartTime float64  `json:"projectStartTime"`
	Speed            *float64 `json:"speed,omitempty"`
	Volume           *float64 `json:"volume,omitempty"`
}

type OperationLogEntry struct {
	OpID      string         `json:"opId"`
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

type Metadata struct {
	Tags   []string       `json:"tags,omitempty"`
	Custom map[string]any `json:"custom,omitempty"`
}

type Signature struct {
	KeyID     string `json:"keyId"`
	Algorithm string `json:"algorithm"`
	Signature string `json:"signature"`
	CreatedAt string `json:"createdAt"`
	Notes     string `json:"notes,omitempty"`
}

// PublicSummary is the shareable view of a manifest. It carries no asset
// metadata and is anchored to the source manifest's signature.
type PublicSummary struct {
	SchemaVersion   string           `json:"schemaVersion"`
	ProjectID       string           `json:"projectId"`
	Title           string           `json:"title"`
	Duration        float64          `json:"duration"`
	Segments        []SegmentSummary `json:"segmentsSummary"`
	SourceSignature string           `json:"sourceSignature,omitempty"`
	Timestamp       string           `json:"timestamp"`
}

type SegmentSummary struct {
	ID               string  `json:"id"`
	AssetID          string  `json:"assetId"`
	ProjectStartTime float64 `json:"projectStartTime"`
	Duration         float64 `json:"duration"`
}
