package kernels

import (
	"fmt"
	"math"
)

// Source fills the output from, in order of preference: a bound src input,
// an asset reference, or a solid color parameter. Asset textures are sampled
// bilinearly so a proxy-tier asset still covers the full output.
func Source(d *Dispatch) error {
	src := d.Input("src")
	if src == nil {
		if assetID := ParamString(d.Params, "asset_id", ""); assetID != "" {
			if d.Assets == nil {
				return fmt.Errorf("source node references asset %q but no asset source is attached", assetID)
			}
			tex, err := d.Assets(assetID)
			if err != nil {
				return fmt.Errorf("fetch asset %q: %w", assetID, err)
			}
			src = tex
		}
	}
	out := d.Output
	w, h := int(out.Width()), int(out.Height())
	if src == nil {
		color := ParamVec4(d.Params, "color", [4]float32{0, 0, 0, 1})
		out.Clear(color)
		return nil
	}
	if src.Width() == out.Width() && src.Height() == out.Height() {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.Set(x, y, src.At(x, y))
			}
		}
		return nil
	}
	for y := 0; y < h; y++ {
		v := (float64(y) + 0.5) / float64(h)
		for x := 0; x < w; x++ {
			u := (float64(x) + 0.5) / float64(w)
			out.Set(x, y, sampleBilinear(src, u, v))
		}
	}
	return nil
}

// Blend composites the overlay port onto the base port. The mode parameter
// selects over, add, or multiply; mix scales the overlay's contribution.
func Blend(d *Dispatch) error {
	base := d.Input("base")
	overlay := d.Input("overlay")
	if base == nil || overlay == nil {
		return fmt.Errorf("blend requires base and overlay inputs")
	}
	mode := ParamString(d.Params, "mode", "over")
	mix := float32(ParamFloat(d.Params, "mix", 1))
	out := d.Output
	w, h := int(out.Width()), int(out.Height())
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			b := base.AtClamped(x, y)
			o := overlay.AtClamped(x, y)
			var px [4]float32
			switch mode {
			case "add":
				for i := 0; i < 3; i++ {
					px[i] = b[i] + o[i]*mix
				}
				px[3] = b[3]
			case "multiply":
				for i := 0; i < 3; i++ {
					px[i] = b[i] * (1 - mix + o[i]*mix)
				}
				px[3] = b[3]
			default: // over
				a := o[3] * mix
				for i := 0; i < 3; i++ {
					px[i] = o[i]*a + b[i]*(1-a)
				}
				px[3] = a + b[3]*(1-a)
			}
			out.Set(x, y, px)
		}
	}
	return nil
}

// GaussianBlur applies a separable gaussian approximation to the src port.
// The radius parameter is in texels of the output.
func GaussianBlur(d *Dispatch) error {
	src := d.Input("src")
	if src == nil {
		return fmt.Errorf("gaussian_blur requires a src input")
	}
	radius := int(ParamFloat(d.Params, "radius", 2))
	if radius < 1 {
		radius = 1
	}
	sigma := float64(radius) / 2
	weights := make([]float64, radius+1)
	var norm float64
	for i := 0; i <= radius; i++ {
		weights[i] = math.Exp(-float64(i*i) / (2 * sigma * sigma))
		if i == 0 {
			norm += weights[i]
		} else {
			norm += 2 * weights[i]
		}
	}

	out := d.Output
	w, h := int(out.Width()), int(out.Height())

	// Horizontal pass into a scratch buffer, vertical pass into the output.
	scratch := make([][4]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc [4]float64
			for i := -radius; i <= radius; i++ {
				px := src.AtClamped(x+i, y)
				wt := weights[abs(i)]
				for c := 0; c < 4; c++ {
					acc[c] += float64(px[c]) * wt
				}
			}
			var px [4]float32
			for c := 0; c < 4; c++ {
				px[c] = float32(acc[c] / norm)
			}
			scratch[y*w+x] = px
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc [4]float64
			for i := -radius; i <= radius; i++ {
				yy := y + i
				if yy < 0 {
					yy = 0
				} else if yy >= h {
					yy = h - 1
				}
				px := scratch[yy*w+x]
				wt := weights[abs(i)]
				for c := 0; c < 4; c++ {
					acc[c] += float64(px[c]) * wt
				}
			}
			var px [4]float32
			for c := 0; c < 4; c++ {
				px[c] = float32(acc[c] / norm)
			}
			out.Set(x, y, px)
		}
	}
	return nil
}

// ColorAdjust applies exposure (stops), contrast, and saturation to src.
func ColorAdjust(d *Dispatch) error {
	src := d.Input("src")
	if src == nil {
		return fmt.Errorf("color_adjust requires a src input")
	}
	exposure := float32(math.Pow(2, ParamFloat(d.Params, "exposure", 0)))
	contrast := float32(ParamFloat(d.Params, "contrast", 1))
	saturation := float32(ParamFloat(d.Params, "saturation", 1))
	out := d.Output
	for y := 0; y < int(out.Height()); y++ {
		for x := 0; x < int(out.Width()); x++ {
			px := src.AtClamped(x, y)
			for i := 0; i < 3; i++ {
				px[i] = (px[i]*exposure-0.5)*contrast + 0.5
			}
			luma := 0.2126*px[0] + 0.7152*px[1] + 0.0722*px[2]
			for i := 0; i < 3; i++ {
				px[i] = luma + (px[i]-luma)*saturation
			}
			out.Set(x, y, px)
		}
	}
	return nil
}

// Vignette multiplies src by a radial falloff. Strength sets the darkening
// at the corners, softness the width of the transition.
func Vignette(d *Dispatch) error {
	src := d.Input("src")
	if src == nil {
		return fmt.Errorf("vignette requires a src input")
	}
	strength := ParamFloat(d.Params, "strength", 0.5)
	softness := ParamFloat(d.Params, "softness", 0.5)
	if softness <= 0 {
		softness = 0.01
	}
	out := d.Output
	w, h := int(out.Width()), int(out.Height())
	for y := 0; y < h; y++ {
		v := (float64(y)+0.5)/float64(h)*2 - 1
		for x := 0; x < w; x++ {
			u := (float64(x)+0.5)/float64(w)*2 - 1
			dist := math.Sqrt(u*u + v*v) / math.Sqrt2
			fall := 1 - strength*smoothstep(1-softness, 1, dist)
			px := src.AtClamped(x, y)
			for i := 0; i < 3; i++ {
				px[i] *= float32(fall)
			}
			out.Set(x, y, px)
		}
	}
	return nil
}

// MaskApply multiplies src by the mask port's first channel. The mask is
// sampled at normalized coordinates, which is why mask edges are exempt from
// adapter insertion: the kernel handles any mask resolution itself.
func MaskApply(d *Dispatch) error {
	src := d.Input("src")
	mask := d.Input("mask")
	if src == nil || mask == nil {
		return fmt.Errorf("mask_apply requires src and mask inputs")
	}
	invert := ParamFloat(d.Params, "invert", 0) != 0
	out := d.Output
	w, h := int(out.Width()), int(out.Height())
	for y := 0; y < h; y++ {
		v := (float64(y) + 0.5) / float64(h)
		for x := 0; x < w; x++ {
			u := (float64(x) + 0.5) / float64(w)
			m := sampleBilinear(mask, u, v)[0]
			if invert {
				m = 1 - m
			}
			px := src.AtClamped(x, y)
			for i := 0; i < 4; i++ {
				px[i] *= m
			}
			out.Set(x, y, px)
		}
	}
	return nil
}

func smoothstep(edge0, edge1, x float64) float64 {
	t := (x - edge0) / (edge1 - edge0)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return t * t * (3 - 2*t)
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}
