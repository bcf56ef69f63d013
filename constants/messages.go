package constants

// User-visible message templates. These strings are part of the API contract:
// the web client mirrors the same limits, so wording must stay in sync.
const (
	MsgUnsupportedFormat = "Unsupported file format"
	MsgInvalidImage      = "Invalid image file"

	MsgPDFTooLargeFmt   = "PDF exceeds %d MB"
	MsgImageTooLargeFmt = "Image exceeds %d MB"

	MsgImageTooSmallDimsFmt = "Image too small (%dx%d)"
	MsgImageTooLargeDimsFmt = "Image too large (%dx%d)"

	MsgMaxFilesFmt  = "Maximum %d files allowed"
	MsgMaxPDFsFmt   = "Maximum %d PDFs allowed"
	MsgMaxImagesFmt = "Maximum %d images allowed"
)
