package codestream

// Profile IDC values.
const (
	ProfileMain             = 1
	ProfileMain10           = 2
	ProfileMainStillPicture = 3
	ProfileRangeExtensions  = 4
	ProfileHighThroughput   = 5
	ProfileSCC              = 9
)

// ProfileTierLevel holds profile_tier_level() data (clause 7.3.3).
type ProfileTierLevel struct {
	General  LayerPTL
	SubLayer []LayerPTL
}

// LayerPTL is the profile and level of one temporal sub-layer. Fields are
// only meaningful when the matching present flag is set.
type LayerPTL struct {
	ProfilePresent bool
	LevelPresent   bool

	ProfileSpace       uint8
	TierFlag           bool
	ProfileIDC         uint8
	CompatibilityFlags uint32

	ProgressiveSource   bool
	InterlacedSource    bool
	NonPackedConstraint bool
	FrameOnlyConstraint bool
	ConstraintFlags     uint64 // 44 bits following the four source flags
	LevelIDC            uint8
}

// Level returns the level number, e.g. 4.1 for level_idc 123.
func (l LayerPTL) Level() float64 {
	return float64(l.LevelIDC) / 30
}

func (r *fieldReader) layerProfile(l *LayerPTL) {
	l.ProfileSpace = uint8(r.u(2))
	l.TierFlag = r.flag()
	l.ProfileIDC = uint8(r.u(5))
	l.CompatibilityFlags = r.u(32)
	l.ProgressiveSource = r.flag()
	l.InterlacedSource = r.flag()
	l.NonPackedConstraint = r.flag()
	l.FrameOnlyConstraint = r.flag()
	hi := uint64(r.u(32))
	lo := uint64(r.u(12))
	l.ConstraintFlags = hi<<12 | lo
}

// parseProfileTierLevel reads profile_tier_level(1, maxNumSubLayersMinus1).
func parseProfileTierLevel(r *fieldReader, maxNumSubLayersMinus1 int) ProfileTierLevel {
	var ptl ProfileTierLevel
	ptl.General.ProfilePresent = true
	ptl.General.LevelPresent = true
	r.layerProfile(&ptl.General)
	ptl.General.LevelIDC = uint8(r.u(8))

	ptl.SubLayer = make([]LayerPTL, maxNumSubLayersMinus1)
	for i := range ptl.SubLayer {
		ptl.SubLayer[i].ProfilePresent = r.flag()
		ptl.SubLayer[i].LevelPresent = r.flag()
	}
	if maxNumSubLayersMinus1 > 0 {
		for i := maxNumSubLayersMinus1; i < 8; i++ {
			r.skip(2) // reserved_zero_2bits
		}
	}
	for i := range ptl.SubLayer {
		if ptl.SubLayer[i].ProfilePresent {
			r.layerProfile(&ptl.SubLayer[i])
		}
		if ptl.SubLayer[i].LevelPresent {
			ptl.SubLayer[i].LevelIDC = uint8(r.u(8))
		}
	}
	return ptl
}
