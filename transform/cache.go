package transform

import (
	"encoding/binary"
	"image"

	"github.com/cespare/xxhash/v2"

	"github.com/lyricwulf/pdf-ruiner/classify"
)

// maxVerdicts bounds the cache; it is cleared when full.
const maxVerdicts = 4096

type verdict struct {
	nearUniform bool
	// blank is set for images that are entirely blankValue.
	blank bool
}

// verdictCache remembers near-uniform verdicts by bitmap content, so an
// image shared by many pages or files is histogrammed once.
type verdictCache struct {
	m map[uint64]verdict
}

func newVerdictCache() *verdictCache {
	return &verdictCache{m: make(map[uint64]verdict)}
}

func (c *verdictCache) lookup(img image.Image) verdict {
	key, ok := contentKey(img)
	if ok {
		if v, hit := c.m[key]; hit {
			return v
		}
	}
	level, ratio := classify.Dominant(img)
	v := verdict{
		nearUniform: ratio >= classify.NearUniformRatio,
		blank:       ratio >= 1 && level == blankValue,
	}
	if ok {
		if len(c.m) >= maxVerdicts {
			c.m = make(map[uint64]verdict)
		}
		c.m[key] = v
	}
	return v
}

// contentKey hashes the pixel format, size and samples of the bitmap types
// the decoder produces.
func contentKey(img image.Image) (uint64, bool) {
	var (
		tag byte
		pix []byte
	)
	switch v := img.(type) {
	case *image.Gray:
		tag, pix = 'g', v.Pix
	case *image.RGBA:
		tag, pix = 'r', v.Pix
	case *image.CMYK:
		tag, pix = 'c', v.Pix
	default:
		return 0, false
	}
	b := img.Bounds()
	var hdr [17]byte
	hdr[0] = tag
	binary.LittleEndian.PutUint64(hdr[1:], uint64(b.Dx()))
	binary.LittleEndian.PutUint64(hdr[9:], uint64(b.Dy()))
	d := xxhash.New()
	_, _ = d.Write(hdr[:])
	_, _ = d.Write(pix)
	return d.Sum64(), true
}
