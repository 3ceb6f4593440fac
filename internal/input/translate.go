package input

import (
	"errors"
	"math"
)

// ErrNotDisplayed means the displayed image has no extent yet (e.g. the
// element hasn't rendered). Callers should drop the pointer event rather
// than treat this as fatal.
var ErrNotDisplayed = errors.New("input: displayed size is zero")

// ToRemoteCoords maps a pointer position on the locally displayed image to
// the remote framebuffer's pixel space by scaling each axis linearly.
//
// Rounding is nearest-integer with ties away from zero (math.Round), since
// the backend addresses exact integer pixels.
func ToRemoteCoords(localX, localY float64, displayedW, displayedH, naturalW, naturalH int) (int, int, error) {
	if displayedW == 0 || displayedH == 0 {
		return 0, 0, ErrNotDisplayed
	}
	remoteX := int(math.Round(localX * float64(naturalW) / float64(displayedW)))
	remoteY := int(math.Round(localY * float64(naturalH) / float64(displayedH)))
	return remoteX, remoteY, nil
}
