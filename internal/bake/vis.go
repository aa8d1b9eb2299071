package bake

import (
	"github.com/Faultbox/midgard-rad/internal/level"
	"github.com/Faultbox/midgard-rad/pkg/rad"
)

// traceOffset lifts trace endpoints off the patch surface.
const traceOffset = 0.1

// patchVisibility reports whether two patches face each other with nothing
// in between. Patches on one plane never see each other.
func patchVisibility(lvl *level.Level, patches *rad.PatchList) rad.VisibilityFunc {
	return func(i, j rad.PatchIndex) bool {
		a, b := patches.Ref(i), patches.Ref(j)
		d := b.Origin().Sub(a.Origin())

		if a.Normal().Dot(d) <= 0 || b.Normal().Dot(d) >= 0 {
			return false
		}

		from := a.Origin().Add(a.Normal().Mul(traceOffset))
		to := b.Origin().Add(b.Normal().Mul(traceOffset))
		return lvl.TraceLine(from, to) == level.ContentsEmpty
	}
}
