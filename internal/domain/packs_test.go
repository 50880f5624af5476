package domain

import "testing"

func TestFindCreditPack(t *testing.T) {
	pack, ok := FindCreditPack("starter")
	if !ok {
		t.Fatalf("starter pack should exist")
	}
	if pack.Credits != 50 || pack.AmountCents != 999 {
		t.Fatalf("unexpected starter pack: %+v", pack)
	}

	if _, ok := FindCreditPack("mystery"); ok {
		t.Fatalf("unknown pack id should not resolve")
	}
	if _, ok := FindCreditPack(""); ok {
		t.Fatalf("empty pack id should not resolve")
	}
}
