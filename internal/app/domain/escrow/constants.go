package escrow

// Limits and timing windows for escrow records. All amounts are base token
// units; all durations are seconds.
const (
	// DefaultMaxBalance is applied when initialization requests a ceiling
	// of zero.
	DefaultMaxBalance uint64 = 1_000_000_000_000

	// MaxAllowedBalance is the absolute ceiling any record may request.
	MaxAllowedBalance uint64 = 10_000_000_000_000

	// MaxTransactionAmount caps a single trade withdrawal.
	MaxTransactionAmount uint64 = 100_000_000_000

	// MaxSubscriptionFee caps a single subscription-fee withdrawal.
	MaxSubscriptionFee uint64 = 1_000_000_000

	// DustThreshold is the balance at or below which a record counts as
	// empty for closure.
	DustThreshold uint64 = 10

	// TimestampTolerance is the accepted clock skew for caller-supplied
	// timestamps.
	TimestampTolerance int64 = 30

	// MinAuthorityAge is the delegation time-lock: a freshly delegated
	// authority cannot withdraw until this many seconds have passed.
	MinAuthorityAge int64 = 300

	// UnpauseCooldown is the minimum wait after pausing before the record
	// may be unpaused.
	UnpauseCooldown int64 = 300

	// MinTokenDecimals and MaxTokenDecimals bound accepted asset precision.
	MinTokenDecimals uint8 = 6
	MaxTokenDecimals uint8 = 9

	// MinReserveForClose is the reclaimable-reserve floor the vault account
	// must still hold at closure so the owner recovers the full deposit.
	MinReserveForClose uint64 = 2_039_280
)
