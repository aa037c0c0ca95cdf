package semantic

import (
	"context"
	"math"

	"github.com/lyricwulf/pdf-ruiner/ir/raw"
)

// ColorSpace is a simplified colour space: enough to turn samples and colour
// operands into RGB. Separation and DeviceN ignore their tint transforms and
// are shown as a grey proportional to ink coverage; Lab uses only lightness.
type ColorSpace struct {
	Family string // DeviceGray, DeviceRGB, DeviceCMYK, Indexed, Separation, DeviceN, Lab, Pattern
	N      int    // components per sample
	Base   *ColorSpace
	HiVal  int
	Lookup []byte
}

var (
	DeviceGray = &ColorSpace{Family: "DeviceGray", N: 1}
	DeviceRGB  = &ColorSpace{Family: "DeviceRGB", N: 3}
	DeviceCMYK = &ColorSpace{Family: "DeviceCMYK", N: 4}
)

// ColorSpace resolves a colour space operand or entry. Names not defined by
// PDF are looked up in the ColorSpace resources. Unknown spaces fall back to
// DeviceGray.
func (d *Document) ColorSpace(obj raw.Object, resources *raw.DictObj) *ColorSpace {
	return d.colorSpace(obj, resources, 0)
}

func (d *Document) colorSpace(obj raw.Object, resources *raw.DictObj, depth int) *ColorSpace {
	if depth > 8 {
		return DeviceGray
	}
	switch v := d.raw.Resolve(obj).(type) {
	case raw.NameObj:
		switch v.Val {
		case "DeviceGray", "G", "CalGray":
			return DeviceGray
		case "DeviceRGB", "RGB", "CalRGB":
			return DeviceRGB
		case "DeviceCMYK", "CMYK":
			return DeviceCMYK
		case "Pattern":
			return &ColorSpace{Family: "Pattern", N: 1}
		}
		if resources != nil {
			if named := d.raw.Dict(resources.Value("ColorSpace")); named != nil {
				if def := named.Value(v.Val); def != nil {
					return d.colorSpace(def, resources, depth+1)
				}
			}
		}
	case *raw.ArrayObj:
		if len(v.Items) == 0 {
			break
		}
		family, _ := d.raw.Resolve(v.Items[0]).(raw.NameObj)
		switch family.Val {
		case "DeviceGray", "G", "CalGray":
			return DeviceGray
		case "DeviceRGB", "RGB", "CalRGB":
			return DeviceRGB
		case "DeviceCMYK", "CMYK":
			return DeviceCMYK
		case "Lab":
			return &ColorSpace{Family: "Lab", N: 3}
		case "ICCBased":
			if len(v.Items) > 1 {
				if s := d.raw.Stream(v.Items[1]); s != nil {
					if alt := s.Dict.Value("Alternate"); alt != nil {
						return d.colorSpace(alt, resources, depth+1)
					}
					n, _ := s.Dict.IntValue("N")
					return deviceForN(n)
				}
			}
			return DeviceRGB
		case "Indexed", "I":
			return d.indexed(v, resources, depth)
		case "Separation":
			return &ColorSpace{Family: "Separation", N: 1}
		case "DeviceN":
			n := 1
			if len(v.Items) > 1 {
				if names := d.raw.Array(v.Items[1]); names != nil && len(names.Items) > 0 {
					n = len(names.Items)
				}
			}
			return &ColorSpace{Family: "DeviceN", N: n}
		case "Pattern":
			cs := &ColorSpace{Family: "Pattern", N: 1}
			if len(v.Items) > 1 {
				cs.Base = d.colorSpace(v.Items[1], resources, depth+1)
				cs.N = cs.Base.N
			}
			return cs
		}
	}
	return DeviceGray
}

func (d *Document) indexed(arr *raw.ArrayObj, resources *raw.DictObj, depth int) *ColorSpace {
	if len(arr.Items) < 4 {
		return DeviceGray
	}
	base := d.colorSpace(arr.Items[1], resources, depth+1)
	hival := 0
	if n, ok := d.raw.Resolve(arr.Items[2]).(raw.NumberObj); ok {
		hival = int(n.Int())
	}
	var lookup []byte
	switch l := d.raw.Resolve(arr.Items[3]).(type) {
	case raw.StringObj:
		lookup = l.Bytes
	case *raw.StreamObj:
		if data, err := d.decodeStream(context.Background(), l); err == nil {
			lookup = data
		}
	}
	if hival < 0 {
		hival = 0
	}
	if hival > 255 {
		hival = 255
	}
	return &ColorSpace{Family: "Indexed", N: 1, Base: base, HiVal: hival, Lookup: lookup}
}

func deviceForN(n int) *ColorSpace {
	switch n {
	case 1:
		return DeviceGray
	case 4:
		return DeviceCMYK
	}
	return DeviceRGB
}

// DefaultDecode returns the Decode array implied for samples of bpc bits.
func (cs *ColorSpace) DefaultDecode(bpc int) []float64 {
	switch cs.Family {
	case "Indexed":
		return []float64{0, float64(int(1)<<bpc - 1)}
	case "Lab":
		return []float64{0, 100, -100, 100, -100, 100}
	}
	out := make([]float64, 0, 2*cs.N)
	for i := 0; i < cs.N; i++ {
		out = append(out, 0, 1)
	}
	return out
}

// InitialColor is the colour selected by CS/cs before any SC/sc.
func (cs *ColorSpace) InitialColor() []float64 {
	switch cs.Family {
	case "DeviceCMYK":
		return []float64{0, 0, 0, 1}
	case "Separation", "DeviceN":
		out := make([]float64, cs.N)
		for i := range out {
			out[i] = 1
		}
		return out
	}
	return make([]float64, cs.N)
}

// RGB converts components to RGB in [0,1].
func (cs *ColorSpace) RGB(comps []float64) (r, g, b float64) {
	at := func(i int) float64 {
		if i < len(comps) {
			return clamp01(comps[i])
		}
		return 0
	}
	switch cs.Family {
	case "DeviceGray":
		v := at(0)
		return v, v, v
	case "DeviceRGB":
		return at(0), at(1), at(2)
	case "DeviceCMYK":
		c, m, y, k := at(0), at(1), at(2), at(3)
		return (1 - c) * (1 - k), (1 - m) * (1 - k), (1 - y) * (1 - k)
	case "Indexed":
		if cs.Base == nil || len(comps) == 0 {
			return 0, 0, 0
		}
		idx := int(math.Round(comps[0]))
		if idx < 0 {
			idx = 0
		}
		if idx > cs.HiVal {
			idx = cs.HiVal
		}
		n := cs.Base.N
		base := make([]float64, n)
		for j := 0; j < n; j++ {
			if k := idx*n + j; k < len(cs.Lookup) {
				base[j] = float64(cs.Lookup[k]) / 255
			}
		}
		return cs.Base.RGB(base)
	case "Separation", "DeviceN":
		ink := 0.0
		for i := range comps {
			ink = math.Max(ink, at(i))
		}
		return 1 - ink, 1 - ink, 1 - ink
	case "Lab":
		l := 0.0
		if len(comps) > 0 {
			l = math.Max(0, math.Min(100, comps[0])) / 100
		}
		return l, l, l
	}
	return 0.5, 0.5, 0.5
}

// Gray converts components to luma in [0,1] (ITU-R BT.601 weights).
func (cs *ColorSpace) Gray(comps []float64) float64 {
	if cs.Family == "DeviceGray" && len(comps) > 0 {
		return clamp01(comps[0])
	}
	r, g, b := cs.RGB(comps)
	return 0.299*r + 0.587*g + 0.114*b
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
