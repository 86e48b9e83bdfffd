package phone

import "testing"

func TestFindNumberDetectsFormattedUSNumber(t *testing.T) {
	got, ok := FindNumber("you can reach me at (212) 555-0171 after lunch")
	if !ok {
		t.Fatal("expected a number to be found")
	}
	if got != "+12125550171" {
		t.Fatalf("expected E.164 number, got %q", got)
	}
}

func TestFindNumberDetectsInternationalNumber(t *testing.T) {
	got, ok := FindNumber("call +31 6 12345678 tomorrow")
	if !ok {
		t.Fatal("expected a number to be found")
	}
	if got != "+31612345678" {
		t.Fatalf("expected E.164 number, got %q", got)
	}
}

func TestFindNumberIgnoresShortDigitRuns(t *testing.T) {
	if _, ok := FindNumber("my order number is 12345678"); ok {
		t.Fatal("expected short digit run to be ignored")
	}
}

func TestFindNumberIgnoresDates(t *testing.T) {
	if got, ok := FindNumber("see you on 2024-12-31 10:30"); ok {
		t.Fatalf("expected datetime to be ignored, got %q", got)
	}
	if got, ok := FindNumber("deadline is 31.12.2024"); ok {
		t.Fatalf("expected date to be ignored, got %q", got)
	}
}

func TestFindNumberNoDigits(t *testing.T) {
	if _, ok := FindNumber("no numbers here at all"); ok {
		t.Fatal("expected nothing to be found")
	}
}

func TestNormalizeE164ValidNumber(t *testing.T) {
	if got := NormalizeE164("212-555-0171"); got != "+12125550171" {
		t.Fatalf("expected E.164 form, got %q", got)
	}
}

func TestNormalizeE164InvalidInputReturnsTrimmed(t *testing.T) {
	if got := NormalizeE164("  not a number  "); got != "not a number" {
		t.Fatalf("expected trimmed input back, got %q", got)
	}
}
