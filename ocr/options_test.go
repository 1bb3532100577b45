package ocr

import "testing"

func TestWithDigitsOnly(t *testing.T) {
	in := Input{}
	WithDigitsOnly()(&in)
	if got := in.Variables[VarPageSegMode]; got != "6" {
		t.Fatalf("page segmentation mode = %q", got)
	}
	if got := in.Variables[VarWhitelist]; got != "0123456789" {
		t.Fatalf("whitelist = %q", got)
	}
	WithVariable(VarPageSegMode, "7")(&in)
	if in.Variables[VarPageSegMode] != "7" || in.Variables[VarWhitelist] != Digits {
		t.Fatalf("WithVariable should only replace its own name: %v", in.Variables)
	}
}
