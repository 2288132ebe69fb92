package lb

// Exported aliases for white-box-adjacent testing from lb_test without
// making the underlying helpers part of the public API.
var (
	NormalizeWeights = normalizeWeights
	ChoosePriority   = choosePriority
)
