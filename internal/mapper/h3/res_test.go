package h3mapper

import (
	"testing"

	h3 "github.com/uber/h3-go/v4"
)

func TestToParent_ContainsChild(t *testing.T) {
	m := New()

	baseRes := 8
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: 59.3293, Lng: 18.0686}, baseRes)
	if err != nil {
		t.Fatalf("LatLngToCell: %v", err)
	}

	parentStr, err := m.ToParent(cell.String(), baseRes-1)
	if err != nil {
		t.Fatalf("ToParent: %v", err)
	}
	want, _ := h3.LatLngToCell(h3.LatLng{Lat: 59.3293, Lng: 18.0686}, baseRes-1)
	if parentStr != want.String() {
		t.Fatalf("got %s want %s", parentStr, want.String())
	}
}

func TestToParent_SameResIsIdentity(t *testing.T) {
	m := New()
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: 55.6050, Lng: 13.0038}, 7)
	if err != nil {
		t.Fatalf("LatLngToCell: %v", err)
	}
	p, err := m.ToParent(cell.String(), 7)
	if err != nil {
		t.Fatalf("ToParent same-res: %v", err)
	}
	if p != cell.String() {
		t.Fatalf("expected ToParent same-res to return input cell")
	}
}

func TestToParent_BadInput(t *testing.T) {
	m := New()
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: 57.7089, Lng: 11.9746}, 9)
	if err != nil {
		t.Fatalf("LatLngToCell: %v", err)
	}
	if _, err := m.ToParent(cell.String(), 10); err == nil {
		t.Fatalf("expected error for parentRes > current res")
	}
	if _, err := m.ToParent("not-a-cell", 3); err == nil {
		t.Fatalf("expected error for malformed cell")
	}
}
