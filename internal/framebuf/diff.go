package framebuf

import "math"

// sampleIntensities extracts 8-bit intensity values from a packed BGR buffer,
// sampling every stride-th pixel. Intensity is the mean of the three channels.
func sampleIntensities(data []byte, width, height, stride int) []uint8 {
	total := width * height
	out := make([]uint8, 0, total/stride+1)
	for p := 0; p < total; p += stride {
		i := p * 3
		out = append(out, uint8((int(data[i])+int(data[i+1])+int(data[i+2]))/3))
	}
	return out
}

// diffFraction returns the fraction of sampled pixels whose intensity differs
// by more than tolerance between a and b.
func diffFraction(a, b []uint8, tolerance int) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 1.0
	}
	changed := 0
	for i := 0; i < n; i++ {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		if d > tolerance {
			changed++
		}
	}
	return float64(changed) / float64(n)
}

// meanStddev computes mean and standard deviation of sampled intensities.
func meanStddev(samples []uint8) (mean, std float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v)
	}
	mean = sum / float64(len(samples))
	var sq float64
	for _, v := range samples {
		d := float64(v) - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(samples)))
}
