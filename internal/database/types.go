package database

import (
	"time"
)

// Staff is an enrolled person with their live-photo template.
type Staff struct {
	ID                string
	Name              string
	Template          []float32 // unit-length weighted centroid
	TemplateWeights   []float64
	TemplateNorm      float64
	DocumentEmbedding []float32 // cross-check reference, never merged into Template
	RegistrationNote  string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// StoredEmbedding is one raw live-photo embedding of a staff member.
type StoredEmbedding struct {
	ID        int64
	StaffID   string
	Position  int // index of the source photo in the registration request
	Embedding []float32
	DetScore  float64
	Quality   float64
	CreatedAt time.Time
}

// IdentityEmbeddings groups the raw embeddings of one person.
type IdentityEmbeddings struct {
	StaffID    string
	Name       string
	Embeddings [][]float32
}

// ClockEvent is a recorded clock attempt, matched or not.
type ClockEvent struct {
	ID                string
	StaffID           string
	ClockType         string
	Timestamp         time.Time
	Similarity        float64
	Threshold         float64
	Matched           bool
	Confidence        float64 // fused signal confidence
	DeviceFingerprint string
	LocationValid     bool
	FaceSignal        float64
	TemporalSignal    float64
	DeviceSignal      float64
	LocationSignal    float64
	RiskScore         float64
	RiskLevel         string
	RiskFactors       []string
	Warnings          []string
	CreatedAt         time.Time
}

// DeviceSample is the capture quality of one clock-in frame.
type DeviceSample struct {
	Width      float64   `json:"width"`
	Variance   float64   `json:"variance"`
	Brightness float64   `json:"brightness"`
	Score      float64   `json:"score"`
	At         time.Time `json:"at"`
}

// DeviceQuality is the rolling capture history of one device.
type DeviceQuality struct {
	Fingerprint   string
	Samples       []DeviceSample // newest last
	AvgWidth      float64
	AvgVariance   float64
	AvgBrightness float64
	AvgScore      float64
	Tier          string
	TotalClockIns int
	UpdatedAt     time.Time
}
