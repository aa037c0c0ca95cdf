package security

// Limits bound the resources spent on one hostile or broken document.
type Limits struct {
	// Maximum decoded stream size (zip bombs). Default: 256 MB.
	MaxDecompressedSize int64

	// Maximum Form XObject and annotation appearance nesting. Default: 12.
	MaxXObjectDepth int

	// Maximum string length in bytes. Default: 16 MB.
	MaxStringLength int64

	// Maximum raw stream length in bytes. Default: 512 MB.
	MaxStreamLength int64

	// Maximum rendered image side in pixels. Default: 20000.
	MaxImageSide int
}

// DefaultLimits returns a Limits struct with safe default values.
func DefaultLimits() Limits {
	return Limits{
		MaxDecompressedSize: 256 << 20,
		MaxXObjectDepth:     12,
		MaxStringLength:     16 << 20,
		MaxStreamLength:     512 << 20,
		MaxImageSide:        20000,
	}
}
