package fhirmodels

// Common FHIR code constants used across the application.

// Resource types queried from the record source.
const (
	ResourceEncounter   = "Encounter"
	ResourceCondition   = "Condition"
	ResourceObservation = "Observation"
	ResourcePatient     = "Patient"
	ResourceValueSet    = "ValueSet"
)

// Code systems.
const (
	SystemSNOMED               = "http://snomed.info/sct"
	SystemICD10                = "http://hl7.org/fhir/sid/icd-10"
	SystemDischargeDisposition = "http://terminology.hl7.org/CodeSystem/discharge-disposition"
	SystemObservationCategory  = "http://terminology.hl7.org/CodeSystem/observation-category"
)

// SNOMED codes with fixed meaning in road-traffic reporting.
const (
	SNOMEDTrafficAccident        = "274215009"
	SNOMEDMotorVehicleAccident   = "127348004"
	SNOMEDDied                   = "419099009"
)

// DischargeDisposition codes that mean the patient died.
const (
	DispositionExpired      = "exp"
	DispositionExpiredLong  = "expired"
	DispositionDead         = "dead"
	DispositionDeath        = "death"
)

// AdministrativeGender values.
const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderOther   = "other"
	GenderUnknown = "unknown"
)

// EncounterStatus values per FHIR R4.
const (
	EncounterStatusInProgress     = "in-progress"
	EncounterStatusFinished       = "finished"
	EncounterStatusCancelled      = "cancelled"
	EncounterStatusEnteredInError = "entered-in-error"
)

// Injury mechanism categories reported in the injury breakdown.
const (
	InjuryMotorVehicle   = "Motor vehicle accident"
	InjuryPedestrian     = "Pedestrian accident"
	InjuryCyclist        = "Cyclist accident"
	InjuryRoadTraffic    = "Road traffic accident"
	InjuryOtherTransport = "Other transport accident"
	InjuryOtherCondition = "Other condition"
	InjuryUnknown        = "Unknown"
)

// InjuryCategories lists the categories in report order.
var InjuryCategories = []string{
	InjuryMotorVehicle,
	InjuryPedestrian,
	InjuryCyclist,
	InjuryRoadTraffic,
	InjuryOtherTransport,
	InjuryOtherCondition,
}

// Genders lists the normalized AdministrativeGender values in report order.
var Genders = []string{GenderMale, GenderFemale, GenderOther, GenderUnknown}
