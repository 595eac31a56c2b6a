package codestream

import "github.com/pkg/errors"

// ScalingList holds scaling_list_data() (clause 7.3.4) resolved against
// the default lists. Coefficients are stored in up-right diagonal scan
// order: 16 entries for sizeId 0, 64 for sizeId 1..3.
type ScalingList struct {
	// Coefficients indexed by [sizeId][matrixId]
	Lists [4][6][64]uint8

	// scaling_list_dc_coef_minus8 + 8 for sizeId 2 and 3
	DC [4][6]uint8
}

// Default 8x8 lists (Table 7-6), in diagonal scan order.
var (
	defaultIntra8x8 = [64]uint8{
		16, 16, 16, 16, 16, 16, 16, 16, 16, 16, 17, 16, 17, 16, 17, 18,
		17, 18, 18, 17, 18, 21, 19, 20, 21, 20, 19, 21, 24, 22, 22, 24,
		24, 22, 22, 24, 25, 25, 27, 30, 27, 25, 25, 29, 31, 35, 35, 31,
		29, 36, 41, 44, 41, 36, 47, 54, 54, 47, 65, 70, 65, 88, 88, 115,
	}
	defaultInter8x8 = [64]uint8{
		16, 16, 16, 16, 16, 16, 16, 16, 16, 16, 17, 17, 17, 17, 17, 18,
		18, 18, 18, 18, 18, 20, 20, 20, 20, 20, 20, 20, 24, 24, 24, 24,
		24, 24, 24, 24, 25, 25, 25, 25, 25, 25, 25, 28, 28, 28, 28, 28,
		28, 33, 33, 33, 33, 33, 41, 41, 41, 41, 54, 54, 54, 71, 71, 91,
	}
)

// DefaultScalingList returns the lists used when scaling_list_enabled_flag
// is set without explicit data.
func DefaultScalingList() *ScalingList {
	sl := &ScalingList{}
	for matrixID := 0; matrixID < 6; matrixID++ {
		sl.setDefault(0, matrixID)
		for sizeID := 1; sizeID < 4; sizeID++ {
			sl.setDefault(sizeID, matrixID)
		}
	}
	return sl
}

func (sl *ScalingList) setDefault(sizeID, matrixID int) {
	if sizeID == 0 {
		for i := 0; i < 16; i++ {
			sl.Lists[0][matrixID][i] = 16
		}
		return
	}
	if matrixID < 3 {
		sl.Lists[sizeID][matrixID] = defaultIntra8x8
	} else {
		sl.Lists[sizeID][matrixID] = defaultInter8x8
	}
	sl.DC[sizeID][matrixID] = 16
}

// parseScalingListData reads scaling_list_data(). The 32x32 chroma
// matrices (sizeId 3, matrixId 1, 2, 4, 5) are not coded and are copied
// from the 16x16 ones for 4:4:4 content.
func parseScalingListData(r *fieldReader) *ScalingList {
	sl := &ScalingList{}
	for sizeID := 0; sizeID < 4; sizeID++ {
		step := 1
		if sizeID == 3 {
			step = 3
		}
		coefNum := 64
		if sizeID == 0 {
			coefNum = 16
		}
		for matrixID := 0; matrixID < 6; matrixID += step {
			if !r.flag() { // scaling_list_pred_mode_flag
				limit := uint32(matrixID)
				if sizeID == 3 {
					limit = uint32(matrixID / 3)
				}
				delta := int(r.ueMax(limit, "scaling_list_pred_matrix_id_delta"))
				if delta == 0 {
					sl.setDefault(sizeID, matrixID)
					continue
				}
				if sizeID == 3 {
					delta *= 3
				}
				ref := matrixID - delta
				sl.Lists[sizeID][matrixID] = sl.Lists[sizeID][ref]
				sl.DC[sizeID][matrixID] = sl.DC[sizeID][ref]
				continue
			}

			next := 8
			if sizeID > 1 {
				dc := int(r.seRange(-7, 247, "scaling_list_dc_coef_minus8"))
				next = dc + 8
				sl.DC[sizeID][matrixID] = uint8(next)
			}
			for i := 0; i < coefNum; i++ {
				delta := int(r.seRange(-128, 127, "scaling_list_delta_coef"))
				next = (next + delta + 256) % 256
				if next == 0 {
					r.fail(errors.Wrap(ErrMalformedParameterSet, "zero scaling list coefficient"))
				}
				sl.Lists[sizeID][matrixID][i] = uint8(next)
			}
			if r.err() != nil {
				return sl
			}
		}
	}
	// 32x32 chroma lists follow the 16x16 ones.
	for _, matrixID := range []int{1, 2, 4, 5} {
		sl.Lists[3][matrixID] = sl.Lists[2][matrixID]
		sl.DC[3][matrixID] = sl.DC[2][matrixID]
	}
	return sl
}
