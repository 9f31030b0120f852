package types

import (
	"time"
)

// PatientInfo is immutable once attached to a MedicalRecord.
type PatientInfo struct {
	Age                int      `json:"age"`
	Gender             string   `json:"gender"` // male|female
	MedicalHistory     string   `json:"medicalHistory,omitempty"`
	Allergies          []string `json:"allergies,omitempty"`
	CurrentMedications []string `json:"currentMedications,omitempty"`
}

type DiagnosisRequest struct {
	PatientID   string      `json:"patientId,omitempty"`
	Symptoms    string      `json:"symptoms"`
	Pulse       string      `json:"pulse,omitempty"`
	Tongue      string      `json:"tongue,omitempty"`
	PatientInfo PatientInfo `json:"patientInfo"`
}

// DiagnosisResult is derived from exactly one chat completion.
type DiagnosisResult struct {
	Diagnosis          string    `json:"diagnosis"`
	Summary            string    `json:"summary"`
	SyndromeType       string    `json:"syndromeType"`       // 证型
	TreatmentPrinciple string    `json:"treatmentPrinciple"` // 治则
	Recommendations    []string  `json:"recommendations"`
	Confidence         float64   `json:"confidence"`
	Timestamp          time.Time `json:"timestamp"`
}

type PrescriptionRequest struct {
	Diagnosis    string      `json:"diagnosis"`
	SyndromeType string      `json:"syndromeType"`
	PatientInfo  PatientInfo `json:"patientInfo"`
}

type PrescriptionResult struct {
	Prescription string    `json:"prescription"`
	Summary      string    `json:"summary"`
	MainHerbs    []string  `json:"mainHerbs"`   // 主要药材
	Dosage       string    `json:"dosage"`      // 剂量
	Preparation  string    `json:"preparation"` // 煎服法
	Precautions  []string  `json:"precautions"` // 注意事项
	Duration     string    `json:"duration"`    // 疗程
	Timestamp    time.Time `json:"timestamp"`
}

// MedicalRecord is the aggregate root binding one encounter's inputs,
// diagnosis and optional prescription. Its ID is immutable and unique
// within the record store, and UpdatedAt never precedes CreatedAt.
type MedicalRecord struct {
	ID           string              `json:"id"`
	PatientID    string              `json:"patientId"`
	PatientInfo  PatientInfo         `json:"patientInfo"`
	Symptoms     string              `json:"symptoms"`
	Pulse        string              `json:"pulse,omitempty"`
	Tongue       string              `json:"tongue,omitempty"`
	Diagnosis    DiagnosisResult     `json:"diagnosis"`
	Prescription *PrescriptionResult `json:"prescription,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

// Knowledge categories.
const (
	KnowledgeCategoryAll       = "all"
	KnowledgeCategoryTheory    = "theory"    // 基础理论
	KnowledgeCategoryDiagnosis = "diagnosis" // 诊断
	KnowledgeCategoryTreatment = "treatment" // 治疗
	KnowledgeCategoryFormula   = "formula"   // 方剂
	KnowledgeCategoryHerb      = "herb"      // 中药
)

type KnowledgeItem struct {
	ID       string   `json:"id"`
	Category string   `json:"category"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags,omitempty"`
	Likes    int      `json:"likes"`
	IsLiked  bool     `json:"isLiked"`
}

type UserProfile struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Avatar         string   `json:"avatar,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	Email          string   `json:"email,omitempty"`
	Gender         string   `json:"gender,omitempty"`
	MedicalHistory string   `json:"medicalHistory,omitempty"`
	Allergies      []string `json:"allergies,omitempty"`
}
