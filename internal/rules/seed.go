package rules

import "time"

// Credential classes referenced by rule sets. Values match the credential
// type codes the caregiver master-data subsystem exposes.
const (
	CredentialBackgroundScreen = "BACKGROUND_SCREEN"
	CredentialCertification    = "CERTIFICATION"
	CredentialCPR              = "CPR"
	CredentialTBScreen         = "TB_SCREEN"
)

// Payer and service type codes used in jurisdiction keys.
const (
	PayerMedicaid = "MEDICAID"
	PayerPrivate  = "PRIVATE"

	ServicePersonalCare = "PERSONAL_CARE"
	ServiceHomeHealth   = "HOME_HEALTH"
)

// Seed returns the built-in jurisdiction table. Adding a state is a data
// change here (or in whatever store feeds Replace), never new control flow.
func Seed() []RuleSet {
	return []RuleSet{
		{
			Key:                      Key{State: "TX", PayerType: PayerMedicaid, ServiceType: ServicePersonalCare},
			RequiredCredentials:      []string{CredentialBackgroundScreen, CredentialCertification},
			RequiredScreening:        true,
			EarlyClockInGrace:        10 * time.Minute,
			RequireClientSignature:   false,
			AggregatorID:             "HHAEXCHANGE_TX",
			GeofenceRadiusMeters:     50,
			SpoofAccuracyFloorMeters: 3,
			MaxTravelSpeedMPS:        33,
			AllowManualException:     true,
			Citation:                 "26 TAC §558.287 (Texas HHSC EVV policy)",
		},
		{
			Key:                      Key{State: "TX", PayerType: PayerMedicaid, ServiceType: ServiceHomeHealth},
			RequiredCredentials:      []string{CredentialBackgroundScreen, CredentialCertification, CredentialTBScreen},
			RequiredScreening:        true,
			EarlyClockInGrace:        10 * time.Minute,
			RequireClientSignature:   true,
			AggregatorID:             "HHAEXCHANGE_TX",
			GeofenceRadiusMeters:     50,
			SpoofAccuracyFloorMeters: 3,
			MaxTravelSpeedMPS:        33,
			AllowManualException:     false,
			Citation:                 "26 TAC §558.287 (Texas HHSC EVV policy)",
		},
		{
			Key:                      Key{State: "OH", PayerType: PayerMedicaid, ServiceType: ServicePersonalCare},
			RequiredCredentials:      []string{CredentialBackgroundScreen},
			RequiredScreening:        true,
			EarlyClockInGrace:        15 * time.Minute,
			RequireClientSignature:   true,
			AggregatorID:             "SANDATA_OH",
			GeofenceRadiusMeters:     100,
			SpoofAccuracyFloorMeters: 3,
			MaxTravelSpeedMPS:        33,
			AllowManualException:     true,
			Citation:                 "OAC 5160-1-40 (Ohio Medicaid EVV)",
		},
		{
			Key:                      Key{State: "PA", PayerType: PayerMedicaid, ServiceType: ServicePersonalCare},
			RequiredCredentials:      []string{CredentialBackgroundScreen, CredentialCPR},
			RequiredScreening:        true,
			EarlyClockInGrace:        5 * time.Minute,
			RequireClientSignature:   false,
			AggregatorID:             "HHAEXCHANGE_PA",
			GeofenceRadiusMeters:     50,
			SpoofAccuracyFloorMeters: 3,
			MaxTravelSpeedMPS:        33,
			AllowManualException:     true,
			Citation:                 "62 P.S. §403.1 (Pennsylvania DHS EVV)",
		},
		{
			Key:                      Key{State: "TX", PayerType: PayerPrivate, ServiceType: ServicePersonalCare},
			RequiredCredentials:      []string{CredentialBackgroundScreen},
			RequiredScreening:        true,
			EarlyClockInGrace:        30 * time.Minute,
			RequireClientSignature:   false,
			AggregatorID:             "HHAEXCHANGE_TX",
			GeofenceRadiusMeters:     75,
			SpoofAccuracyFloorMeters: 3,
			MaxTravelSpeedMPS:        33,
			AllowManualException:     true,
			Citation:                 "agency private-pay policy",
		},
	}
}
