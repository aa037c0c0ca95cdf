package filters

import (
	"fmt"

	"github.com/lyricwulf/pdf-ruiner/ir/raw"
)

// applyPredictor reverses PNG (10-15) and TIFF (2) predictors described by DecodeParms.
func applyPredictor(data []byte, params *raw.DictObj) ([]byte, error) {
	if params == nil {
		return data, nil
	}
	predictor, _ := params.IntValue("Predictor")
	if predictor <= 1 {
		return data, nil
	}
	colors := intOr(params, "Colors", 1)
	bpc := intOr(params, "BitsPerComponent", 8)
	columns := intOr(params, "Columns", 1)
	if colors < 1 || bpc < 1 || columns < 1 {
		return nil, fmt.Errorf("invalid predictor parameters colors=%d bpc=%d columns=%d", colors, bpc, columns)
	}
	bpp := (colors*bpc + 7) / 8
	rowLen := (colors*bpc*columns + 7) / 8

	if predictor == 2 {
		return tiffPredictor(data, rowLen, colors, bpc), nil
	}
	if predictor < 10 {
		return nil, fmt.Errorf("unsupported predictor %d", predictor)
	}

	out := make([]byte, 0, len(data)/(rowLen+1)*rowLen)
	prev := make([]byte, rowLen)
	for off := 0; off < len(data); off += rowLen + 1 {
		end := off + rowLen + 1
		if end > len(data) {
			break
		}
		tag := data[off]
		row := append([]byte(nil), data[off+1:end]...)
		for i := range row {
			var left, up, upLeft byte
			if i >= bpp {
				left = row[i-bpp]
				upLeft = prev[i-bpp]
			}
			up = prev[i]
			switch tag {
			case 0:
			case 1:
				row[i] += left
			case 2:
				row[i] += up
			case 3:
				row[i] += byte((int(left) + int(up)) / 2)
			case 4:
				row[i] += paeth(left, up, upLeft)
			default:
				return nil, fmt.Errorf("invalid png filter type %d", tag)
			}
		}
		out = append(out, row...)
		prev = row
	}
	return out, nil
}

func tiffPredictor(data []byte, rowLen, colors, bpc int) []byte {
	if bpc != 8 {
		// sub-byte TIFF prediction is vanishingly rare; leave the samples as they are
		return data
	}
	out := append([]byte(nil), data...)
	for off := 0; off+rowLen <= len(out); off += rowLen {
		row := out[off : off+rowLen]
		for i := colors; i < len(row); i++ {
			row[i] += row[i-colors]
		}
	}
	return out
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func intOr(d *raw.DictObj, key string, def int) int {
	if v, ok := d.IntValue(key); ok {
		return v
	}
	return def
}
