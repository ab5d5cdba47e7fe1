package framebuf

// lowQualityError signals a frame rejected by the quality gate.
type lowQualityError struct{ reason string }

func (e lowQualityError) Error() string { return "framebuf: low quality frame: " + e.reason }

// IsLowQuality reports whether err indicates a quality-gate rejection.
func IsLowQuality(err error) bool {
	_, ok := err.(lowQualityError)
	return ok
}
