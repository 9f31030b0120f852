package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yunzhen-health/tcm-advisor/internal/kv"
	"github.com/yunzhen-health/tcm-advisor/internal/platform/apierr"
	"github.com/yunzhen-health/tcm-advisor/internal/platform/logger"
	"github.com/yunzhen-health/tcm-advisor/internal/types"
)

// RecordsKey is the kv key holding the entire serialized record list.
const RecordsKey = "medicalRecords"

const defaultPatientID = "current-user"

// PrescriptionParams optionally overrides what Prescribe is called with.
// Unset fields are resolved from the current diagnosis / most recent record.
type PrescriptionParams struct {
	Diagnosis    string
	SyndromeType string
	PatientInfo  *types.PatientInfo
}

type RecordFilters struct {
	PatientID string
	Page      int
	Size      int
}

type RecordPage struct {
	Records []types.MedicalRecord `json:"records"`
	Total   int                   `json:"total"`
	Page    int                   `json:"page"`
	Size    int                   `json:"size"`
}

// RecordUpdate carries a partial update; nil fields are left untouched.
type RecordUpdate struct {
	PatientInfo  *types.PatientInfo
	Symptoms     *string
	Pulse        *string
	Tongue       *string
	Prescription *types.PrescriptionResult
}

// RecordStore owns the medical record collection: an in-memory newest-first
// list plus the "current diagnosis"/"current prescription" session slots,
// written through to the kv store on every mutation. Persistence failures
// are logged, never surfaced.
type RecordStore interface {
	Initialize(ctx context.Context)

	Create(ctx context.Context, req types.DiagnosisRequest) (*types.DiagnosisResult, error)
	AttachPrescription(ctx context.Context, params *PrescriptionParams) (*types.PrescriptionResult, error)

	GetByID(id string) (*types.MedicalRecord, error)
	List(filters RecordFilters) *RecordPage
	Update(ctx context.Context, id string, update RecordUpdate) (*types.MedicalRecord, error)
	Delete(ctx context.Context, id string)

	CurrentDiagnosis() *types.DiagnosisResult
	CurrentPrescription() *types.PrescriptionResult
	LoadRecord(id string) error
	ClearCurrent()
	RecentRecords(n int) []types.MedicalRecord
	Count() int

	Reset(ctx context.Context)
}

type recordStore struct {
	log      *logger.Logger
	advisory AdvisoryService
	store    kv.Store

	mu                  sync.Mutex
	records             []types.MedicalRecord
	currentDiagnosis    *types.DiagnosisResult
	currentPrescription *types.PrescriptionResult

	now func() time.Time
}

func NewRecordStore(log *logger.Logger, advisory AdvisoryService, store kv.Store) (RecordStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if advisory == nil {
		return nil, fmt.Errorf("advisory service required")
	}
	if store == nil {
		return nil, fmt.Errorf("kv store required")
	}
	return &recordStore{
		log:      log.With("service", "RecordStore"),
		advisory: advisory,
		store:    store,
		now:      time.Now,
	}, nil
}

// Initialize loads the persisted record list. A missing or malformed blob
// leaves the store empty; the failure is logged and never surfaced.
func (s *recordStore) Initialize(ctx context.Context) {
	raw, err := s.store.Get(ctx, RecordsKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.log.Warn("Failed to load medical records", "error", err)
		}
		return
	}

	var records []types.MedicalRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		s.log.Warn("Persisted medical records are malformed, starting empty", "error", err)
		return
	}

	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
}

func (s *recordStore) Create(ctx context.Context, req types.DiagnosisRequest) (*types.DiagnosisResult, error) {
	diagnosis, err := s.advisory.Diagnose(ctx, req)
	if err != nil {
		return nil, err
	}

	patientID := req.PatientID
	if patientID == "" {
		patientID = defaultPatientID
	}
	now := s.now()
	record := types.MedicalRecord{
		ID:          uuid.NewString(),
		PatientID:   patientID,
		PatientInfo: req.PatientInfo,
		Symptoms:    req.Symptoms,
		Pulse:       req.Pulse,
		Tongue:      req.Tongue,
		Diagnosis:   *diagnosis,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	s.currentDiagnosis = diagnosis
	s.records = append([]types.MedicalRecord{record}, s.records...)
	s.mu.Unlock()

	s.persist(ctx)
	return diagnosis, nil
}

// AttachPrescription resolves its inputs from params or from the current
// session, calls Prescribe, and on success attaches the result to the most
// recently created record. Without params and without an active diagnosis
// it fails before any network call.
func (s *recordStore) AttachPrescription(ctx context.Context, params *PrescriptionParams) (*types.PrescriptionResult, error) {
	diagnosis, syndromeType, info, err := s.resolvePrescriptionInputs(params)
	if err != nil {
		return nil, err
	}

	prescription, err := s.advisory.Prescribe(ctx, diagnosis, syndromeType, info)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.currentPrescription = prescription
	if len(s.records) > 0 {
		s.records[0].Prescription = prescription
		s.records[0].UpdatedAt = s.now()
	}
	s.mu.Unlock()

	s.persist(ctx)
	return prescription, nil
}

func (s *recordStore) resolvePrescriptionInputs(params *PrescriptionParams) (string, string, types.PatientInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fallbackInfo := types.PatientInfo{Age: 30, Gender: "male"}
	if len(s.records) > 0 {
		fallbackInfo = s.records[0].PatientInfo
	}

	if params == nil {
		if s.currentDiagnosis == nil {
			return "", "", types.PatientInfo{}, apierr.Newf(apierr.CodePrecondition, 0, "请先进行诊断")
		}
		return s.currentDiagnosis.Diagnosis, s.currentDiagnosis.SyndromeType, fallbackInfo, nil
	}

	diagnosis := params.Diagnosis
	syndromeType := params.SyndromeType
	if s.currentDiagnosis != nil {
		if diagnosis == "" {
			diagnosis = s.currentDiagnosis.Diagnosis
		}
		if syndromeType == "" {
			syndromeType = s.currentDiagnosis.SyndromeType
		}
	}
	if diagnosis == "" {
		return "", "", types.PatientInfo{}, apierr.Newf(apierr.CodePrecondition, 0, "请先进行诊断")
	}

	info := fallbackInfo
	if params.PatientInfo != nil {
		info = *params.PatientInfo
	}
	return diagnosis, syndromeType, info, nil
}

func (s *recordStore) GetByID(id string) (*types.MedicalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			record := s.records[i]
			return &record, nil
		}
	}
	return nil, apierr.Newf(apierr.CodeNotFound, 0, "病历不存在: %s", id)
}

func (s *recordStore) List(filters RecordFilters) *RecordPage {
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	size := filters.Size
	if size <= 0 {
		size = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := make([]types.MedicalRecord, 0, len(s.records))
	for _, r := range s.records {
		if filters.PatientID != "" && r.PatientID != filters.PatientID {
			continue
		}
		filtered = append(filtered, r)
	}

	total := len(filtered)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	return &RecordPage{
		Records: append([]types.MedicalRecord(nil), filtered[start:end]...),
		Total:   total,
		Page:    page,
		Size:    size,
	}
}

func (s *recordStore) Update(ctx context.Context, id string, update RecordUpdate) (*types.MedicalRecord, error) {
	s.mu.Lock()
	idx := s.indexOfLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return nil, apierr.Newf(apierr.CodeNotFound, 0, "病历不存在: %s", id)
	}

	r := &s.records[idx]
	if update.PatientInfo != nil {
		r.PatientInfo = *update.PatientInfo
	}
	if update.Symptoms != nil {
		r.Symptoms = *update.Symptoms
	}
	if update.Pulse != nil {
		r.Pulse = *update.Pulse
	}
	if update.Tongue != nil {
		r.Tongue = *update.Tongue
	}
	if update.Prescription != nil {
		r.Prescription = update.Prescription
	}
	r.UpdatedAt = s.now()
	updated := *r
	s.mu.Unlock()

	s.persist(ctx)
	return &updated, nil
}

// Delete is idempotent: removing an absent id is a no-op, not an error.
func (s *recordStore) Delete(ctx context.Context, id string) {
	s.mu.Lock()
	idx := s.indexOfLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.records = append(s.records[:idx], s.records[idx+1:]...)
	s.mu.Unlock()

	s.persist(ctx)
}

func (s *recordStore) CurrentDiagnosis() *types.DiagnosisResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentDiagnosis
}

func (s *recordStore) CurrentPrescription() *types.PrescriptionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPrescription
}

// LoadRecord makes an existing record's diagnosis and prescription the
// current session ones.
func (s *recordStore) LoadRecord(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOfLocked(id)
	if idx < 0 {
		return apierr.Newf(apierr.CodeNotFound, 0, "病历不存在: %s", id)
	}
	diagnosis := s.records[idx].Diagnosis
	s.currentDiagnosis = &diagnosis
	s.currentPrescription = s.records[idx].Prescription
	return nil
}

func (s *recordStore) ClearCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentDiagnosis = nil
	s.currentPrescription = nil
}

func (s *recordStore) RecentRecords(n int) []types.MedicalRecord {
	if n <= 0 {
		n = 5
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.records) {
		n = len(s.records)
	}
	return append([]types.MedicalRecord(nil), s.records[:n]...)
}

func (s *recordStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *recordStore) Reset(ctx context.Context) {
	s.mu.Lock()
	s.records = nil
	s.currentDiagnosis = nil
	s.currentPrescription = nil
	s.mu.Unlock()

	if err := s.store.Remove(ctx, RecordsKey); err != nil {
		s.log.Warn("Failed to clear persisted medical records", "error", err)
	}
}

func (s *recordStore) indexOfLocked(id string) int {
	for i := range s.records {
		if s.records[i].ID == id {
			return i
		}
	}
	return -1
}

// persist writes the whole list through to the kv store, best effort.
func (s *recordStore) persist(ctx context.Context) {
	s.mu.Lock()
	raw, err := json.Marshal(s.records)
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("Failed to serialize medical records", "error", err)
		return
	}
	if err := s.store.Set(ctx, RecordsKey, string(raw)); err != nil {
		s.log.Warn("Failed to persist medical records", "error", err)
	}
}
