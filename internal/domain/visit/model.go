package visit

import (
	"time"

	"github.com/google/uuid"
)

// Window is the protocol window between a visit's start and its due date.
const Window = 14 * 24 * time.Hour

// Visit maps to the visit table. Visit number 1 is the screening visit;
// concluding it randomizes the participant and opens visit 2. A visit with
// a nil CompletedOn is pending.
type Visit struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	ParticipantID       uuid.UUID  `db:"participant_id" json:"participant_id"`
	VisitNumber         int        `db:"visit_number" json:"visit_number"`
	StartDate           time.Time  `db:"start_date" json:"start_date"`
	DueDate             time.Time  `db:"due_date" json:"due_date"`
	ScheduledOn         *time.Time `db:"scheduled_on" json:"scheduled_on,omitempty"`
	CompletedOn         *time.Time `db:"completed_on" json:"completed_on,omitempty"`
	RandomizationNumber *int64     `db:"randomization_number" json:"randomization_number,omitempty"`

	// Document slots hold opaque object keys; the files themselves live in
	// external storage.
	SafetyKey       *string `db:"safety_key" json:"safety_key,omitempty"`
	EfficacyKey     *string `db:"efficacy_key" json:"efficacy_key,omitempty"`
	PrescriptionKey *string `db:"prescription_key" json:"prescription_key,omitempty"`
	SignatureKey    *string `db:"signature_key" json:"signature_key,omitempty"`
	EchoKey         *string `db:"echo_key" json:"echo_key,omitempty"`
	ECGKey          *string `db:"ecg_key" json:"ecg_key,omitempty"`
	UPTKey          *string `db:"upt_key" json:"upt_key,omitempty"`

	QuestionnaireVariant  *int `db:"questionnaire_variant" json:"questionnaire_variant,omitempty"`
	HospitalizationEvents *int `db:"hospitalization_events" json:"hospitalization_events,omitempty"`
	WorseningEvents       *int `db:"worsening_events" json:"worsening_events,omitempty"`
	Death                 bool `db:"death" json:"death"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Pending reports whether the visit has not been concluded yet.
func (v *Visit) Pending() bool {
	return v.CompletedOn == nil
}

// documentSlots maps upload field names to slot setters. Unknown fields are
// rejected rather than silently stored.
var documentSlots = map[string]func(*Visit, string){
	"safety":       func(v *Visit, key string) { v.SafetyKey = &key },
	"efficacy":     func(v *Visit, key string) { v.EfficacyKey = &key },
	"prescription": func(v *Visit, key string) { v.PrescriptionKey = &key },
	"signature":    func(v *Visit, key string) { v.SignatureKey = &key },
	"echo":         func(v *Visit, key string) { v.EchoKey = &key },
	"ecg":          func(v *Visit, key string) { v.ECGKey = &key },
	"upt":          func(v *Visit, key string) { v.UPTKey = &key },
}

// DocumentFields lists the recognized upload slot names.
func DocumentFields() []string {
	return []string{"safety", "efficacy", "prescription", "signature", "echo", "ecg", "upt"}
}

// setDocument stores an object key in the named slot, reporting whether the
// field was recognized.
func (v *Visit) setDocument(field, key string) bool {
	set, ok := documentSlots[field]
	if !ok {
		return false
	}
	set(v, key)
	return true
}

// copyForward builds the successor visit: the clinical payload carries over,
// identity and lifecycle fields reset.
func (v *Visit) copyForward(now time.Time) *Visit {
	return &Visit{
		ParticipantID:         v.ParticipantID,
		VisitNumber:           v.VisitNumber + 1,
		StartDate:             now,
		DueDate:               now.Add(Window),
		SafetyKey:             v.SafetyKey,
		EfficacyKey:           v.EfficacyKey,
		PrescriptionKey:       v.PrescriptionKey,
		SignatureKey:          v.SignatureKey,
		EchoKey:               v.EchoKey,
		ECGKey:                v.ECGKey,
		UPTKey:                v.UPTKey,
		QuestionnaireVariant:  v.QuestionnaireVariant,
		HospitalizationEvents: v.HospitalizationEvents,
		WorseningEvents:       v.WorseningEvents,
		Death:                 v.Death,
	}
}
