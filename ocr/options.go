package ocr

import "strconv"

// Digits is the whitelist used when keys are numeric.
const Digits = "0123456789"

// Tesseract variable names understood by the tesseract engine.
const (
	VarPageSegMode = "tessedit_pageseg_mode"
	VarWhitelist   = "tessedit_char_whitelist"
)

// PSMSingleBlock treats the crop as one uniform block of text, which fits a
// key printed in a fixed box.
const PSMSingleBlock = 6

// WithVariable sets a single engine variable.
func WithVariable(name, value string) InputOption {
	return func(in *Input) {
		if in.Variables == nil {
			in.Variables = make(map[string]string)
		}
		in.Variables[name] = value
	}
}

// WithDigitsOnly restricts recognition to Digits and reads the crop as a
// single block.
func WithDigitsOnly() InputOption {
	return func(in *Input) {
		WithVariable(VarWhitelist, Digits)(in)
		WithVariable(VarPageSegMode, strconv.Itoa(PSMSingleBlock))(in)
	}
}
