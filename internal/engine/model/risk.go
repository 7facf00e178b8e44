package model

type RiskLevel string

const (
	RiskSafeStatic      RiskLevel = "SAFE_STATIC"
	RiskSafeDynamic     RiskLevel = "SAFE_DYNAMIC"
	RiskOpaqueButActive RiskLevel = "OPAQUE_BUT_ACTIVE"
	RiskElevated        RiskLevel = "ELEVATED_RISK"
	RiskDangerous       RiskLevel = "DANGEROUS"
)

var riskRank = map[RiskLevel]int{
	RiskSafeStatic:      0,
	RiskSafeDynamic:     1,
	RiskOpaqueButActive: 2,
	RiskElevated:        3,
	RiskDangerous:       4,
}

func (l RiskLevel) Rank() int {
	return riskRank[l]
}

type Signal string

const (
	SignalHashPinned                Signal = "HASH_PINNED"
	SignalHashUnpinned              Signal = "HASH_UNPINNED"
	SignalHashConflict              Signal = "HASH_CONFLICT"
	SignalMultiRPCConflict          Signal = "MULTI_RPC_CONFLICT"
	SignalParityUnknown             Signal = "PARITY_UNKNOWN"
	SignalPhantomEntrypoints        Signal = "PHANTOM_ENTRYPOINTS"
	SignalOpaqueButActive           Signal = "OPAQUE_BUT_ACTIVE"
	SignalOpaqueSurface             Signal = "OPAQUE_SURFACE"
	SignalMintReachable             Signal = "MINT_REACHABLE"
	SignalBurnReachable             Signal = "BURN_REACHABLE"
	SignalFreezeReachable           Signal = "FREEZE_REACHABLE"
	SignalCapabilityUnreachable     Signal = "CAPABILITY_UNREACHABLE"
	SignalInvariantViolation        Signal = "INVARIANT_VIOLATION"
	SignalInvariantWarning          Signal = "INVARIANT_WARNING"
	SignalInvariantsUnknown         Signal = "INVARIANTS_UNKNOWN"
	SignalSupplyUnexplainedIncrease Signal = "SUPPLY_UNEXPLAINED_INCREASE"
	SignalSupplyExceedsMax          Signal = "SUPPLY_EXCEEDS_MAX"
	SignalOwnerChanged              Signal = "OWNER_CHANGED"
	SignalHooksChanged              Signal = "HOOKS_CHANGED"
	SignalStealthUpgrade            Signal = "STEALTH_UPGRADE"
	SignalABISurfaceChanged         Signal = "ABI_SURFACE_CHANGED"
	SignalCoveragePartial           Signal = "COVERAGE_PARTIAL"
	SignalBehaviorUnavailable       Signal = "BEHAVIOR_UNAVAILABLE"
	SignalBehaviorSampledClean      Signal = "BEHAVIOR_SAMPLED_CLEAN"
	SignalCriticalChange            Signal = "CRITICAL_CHANGE"
)

type RiskSynthesis struct {
	Signals   []Signal  `json:"signals"`
	RiskLevel RiskLevel `json:"risk_level"`
	Rationale []string  `json:"rationale"`
}

func (r RiskSynthesis) HasSignal(s Signal) bool {
	for _, got := range r.Signals {
		if got == s {
			return true
		}
	}
	return false
}
