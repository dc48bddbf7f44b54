package domain

// CanvasGeometry is the letterboxed content rectangle of the rendered video
// inside its container. It is recomputed wholesale whenever the container box
// or the intrinsic video resolution changes, never patched incrementally.
type CanvasGeometry struct {
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	OffsetX float64 `json:"offsetX"`
	OffsetY float64 `json:"offsetY"`
}

// FitCanvas computes the letterboxed rectangle for a video of the given
// intrinsic size rendered inside a container. A video wider than its
// container gets bars above and below (full width, reduced height); a taller
// video gets bars at the sides. Offsets center the content exactly.
func FitCanvas(containerWidth, containerHeight, videoWidth, videoHeight float64) CanvasGeometry {
	if containerWidth <= 0 || containerHeight <= 0 || videoWidth <= 0 || videoHeight <= 0 {
		return CanvasGeometry{}
	}

	containerAspect := containerWidth / containerHeight
	videoAspect := videoWidth / videoHeight

	g := CanvasGeometry{Width: containerWidth, Height: containerHeight}
	if videoAspect > containerAspect {
		g.Height = containerWidth / videoAspect
	} else {
		g.Width = containerHeight * videoAspect
	}
	g.OffsetX = (containerWidth - g.Width) / 2
	g.OffsetY = (containerHeight - g.Height) / 2
	return g
}
