package fhir

import (
	"strings"
	"time"
)

// Resource shapes below are deliberately partial and fully optional. The
// remote server may omit any field; every accessor is safe on a nil
// receiver and reports absence instead of failing.

type Meta struct {
	VersionID   string   `json:"versionId,omitempty"`
	LastUpdated string   `json:"lastUpdated,omitempty"`
	Profile     []string `json:"profile,omitempty"`
}

// LastUpdatedAt parses meta.lastUpdated.
func (m *Meta) LastUpdatedAt() (time.Time, bool) {
	if m == nil {
		return time.Time{}, false
	}
	return ParseDate(m.LastUpdated)
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Codings returns the concept's codings, or nil for a nil concept.
func (cc *CodeableConcept) Codings() []Coding {
	if cc == nil {
		return nil
	}
	return cc.Coding
}

// FirstCoding returns the first coding and whether one exists.
func (cc *CodeableConcept) FirstCoding() (Coding, bool) {
	if cc == nil || len(cc.Coding) == 0 {
		return Coding{}, false
	}
	return cc.Coding[0], true
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

// PatientKey extracts the patient id from "Patient/<id>" or an absolute
// ".../Patient/<id>" reference. Other targets yield "".
func (r *Reference) PatientKey() string {
	if r == nil {
		return ""
	}
	ref := strings.TrimSpace(r.Reference)
	if ref == "" {
		return ""
	}
	if i := strings.Index(ref, "/_history/"); i >= 0 {
		ref = ref[:i]
	}
	idx := strings.LastIndex(ref, "Patient/")
	if idx < 0 {
		if r.Type == "Patient" && !strings.Contains(ref, "/") {
			return ref
		}
		return ""
	}
	if idx > 0 && ref[idx-1] != '/' {
		return ""
	}
	id := ref[idx+len("Patient/"):]
	if id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}

type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// StartTime parses period.start.
func (p *Period) StartTime() (time.Time, bool) {
	if p == nil {
		return time.Time{}, false
	}
	return ParseDate(p.Start)
}

// EndTime parses period.end.
func (p *Period) EndTime() (time.Time, bool) {
	if p == nil {
		return time.Time{}, false
	}
	return ParseDate(p.End)
}

type EncounterHospitalization struct {
	DischargeDisposition *CodeableConcept `json:"dischargeDisposition,omitempty"`
}

// Encounter is the subset of the FHIR R4 Encounter used for traffic analytics.
type Encounter struct {
	ResourceType    string                    `json:"resourceType,omitempty"`
	ID              string                    `json:"id,omitempty"`
	Status          string                    `json:"status,omitempty"`
	Type            []CodeableConcept         `json:"type,omitempty"`
	Subject         *Reference                `json:"subject,omitempty"`
	Period          *Period                   `json:"period,omitempty"`
	Hospitalization *EncounterHospitalization `json:"hospitalization,omitempty"`
	Meta            *Meta                     `json:"meta,omitempty"`
}

func (e *Encounter) PatientKey() string {
	if e == nil {
		return ""
	}
	return e.Subject.PatientKey()
}

// DispositionCodings returns hospitalization.dischargeDisposition codings.
func (e *Encounter) DispositionCodings() []Coding {
	if e == nil || e.Hospitalization == nil {
		return nil
	}
	return e.Hospitalization.DischargeDisposition.Codings()
}

// Timestamp is the encounter's reference point in time: period.start, then
// period.end, then meta.lastUpdated.
func (e *Encounter) Timestamp() (time.Time, bool) {
	if e == nil {
		return time.Time{}, false
	}
	if t, ok := e.Period.StartTime(); ok {
		return t, true
	}
	if t, ok := e.Period.EndTime(); ok {
		return t, true
	}
	return e.Meta.LastUpdatedAt()
}

// Condition is the subset of the FHIR R4 Condition used for traffic analytics.
type Condition struct {
	ResourceType  string            `json:"resourceType,omitempty"`
	ID            string            `json:"id,omitempty"`
	Subject       *Reference        `json:"subject,omitempty"`
	Encounter     *Reference        `json:"encounter,omitempty"`
	Code          *CodeableConcept  `json:"code,omitempty"`
	Category      []CodeableConcept `json:"category,omitempty"`
	RecordedDate  string            `json:"recordedDate,omitempty"`
	OnsetDateTime string            `json:"onsetDateTime,omitempty"`
	Meta          *Meta             `json:"meta,omitempty"`
}

func (c *Condition) PatientKey() string {
	if c == nil {
		return ""
	}
	return c.Subject.PatientKey()
}

// Codings returns code.coding.
func (c *Condition) Codings() []Coding {
	if c == nil {
		return nil
	}
	return c.Code.Codings()
}

// Timestamp is recordedDate, then onsetDateTime, then meta.lastUpdated.
func (c *Condition) Timestamp() (time.Time, bool) {
	if c == nil {
		return time.Time{}, false
	}
	if t, ok := ParseDate(c.RecordedDate); ok {
		return t, true
	}
	if t, ok := ParseDate(c.OnsetDateTime); ok {
		return t, true
	}
	return c.Meta.LastUpdatedAt()
}

// Observation is the subset of the FHIR R4 Observation used for outcome
// resolution.
type Observation struct {
	ResourceType         string            `json:"resourceType,omitempty"`
	ID                   string            `json:"id,omitempty"`
	Status               string            `json:"status,omitempty"`
	Subject              *Reference        `json:"subject,omitempty"`
	Encounter            *Reference        `json:"encounter,omitempty"`
	Code                 *CodeableConcept  `json:"code,omitempty"`
	Category             []CodeableConcept `json:"category,omitempty"`
	ValueCodeableConcept *CodeableConcept  `json:"valueCodeableConcept,omitempty"`
	EffectiveDateTime    string            `json:"effectiveDateTime,omitempty"`
	Meta                 *Meta             `json:"meta,omitempty"`
}

func (o *Observation) PatientKey() string {
	if o == nil {
		return ""
	}
	return o.Subject.PatientKey()
}

// ValueCodings returns valueCodeableConcept.coding.
func (o *Observation) ValueCodings() []Coding {
	if o == nil {
		return nil
	}
	return o.ValueCodeableConcept.Codings()
}

// Timestamp is effectiveDateTime, then meta.lastUpdated.
func (o *Observation) Timestamp() (time.Time, bool) {
	if o == nil {
		return time.Time{}, false
	}
	if t, ok := ParseDate(o.EffectiveDateTime); ok {
		return t, true
	}
	return o.Meta.LastUpdatedAt()
}

// Patient is the subset of the FHIR R4 Patient used for demographics.
type Patient struct {
	ResourceType string `json:"resourceType,omitempty"`
	ID           string `json:"id,omitempty"`
	Gender       string `json:"gender,omitempty"`
	BirthDate    string `json:"birthDate,omitempty"`
	Meta         *Meta  `json:"meta,omitempty"`
}

// Born parses birthDate.
func (p *Patient) Born() (time.Time, bool) {
	if p == nil {
		return time.Time{}, false
	}
	return ParseDate(p.BirthDate)
}
