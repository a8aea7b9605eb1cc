package corelink

import (
	"errors"
	"testing"
)

func TestEncode(t *testing.T) {
	links := []Link{
		NewLink("/").SetAttribute("rt", "oma.lwm2m"),
		NewLink("/1/0"),
		NewLink("/3/0"),
		NewLink("/42/0/1").SetAttribute("obs", ""),
	}
	got := Encode(links)
	want := `</>;rt="oma.lwm2m",</1/0>,</3/0>,</42/0/1>;obs`
	if got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}

func TestEncodeTokenValueUnquoted(t *testing.T) {
	got := Encode([]Link{NewLink("/3/0").SetAttribute("ct", "11542")})
	if got != "</3/0>;ct=11542" {
		t.Errorf("Encode() = %q", got)
	}
}

func TestParseRoundTrip(t *testing.T) {
	doc := `</>;rt="oma.lwm2m",</3/0/0>,</42/0/1>;obs;ct=11542`
	links, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(links) != 3 {
		t.Fatalf("Parse returned %d links, want 3", len(links))
	}
	if links[0].Path != "/" || links[0].Attributes["rt"] != "oma.lwm2m" {
		t.Errorf("first link = %+v", links[0])
	}
	if links[2].Path != "/42/0/1" {
		t.Errorf("third link path = %q", links[2].Path)
	}
	if _, ok := links[2].Attributes["obs"]; !ok {
		t.Error("obs flag missing")
	}
	if links[2].Attributes["ct"] != "11542" {
		t.Errorf("ct = %q, want 11542", links[2].Attributes["ct"])
	}
}

func TestParseQuotedComma(t *testing.T) {
	links, err := Parse(`</x>;title="a,b",</y>`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("Parse returned %d links, want 2", len(links))
	}
	if links[0].Attributes["title"] != "a,b" {
		t.Errorf("title = %q, want a,b", links[0].Attributes["title"])
	}
}

func TestParseMalformed(t *testing.T) {
	for _, doc := range []string{"nope", "</x>;", "3/0"} {
		if _, err := Parse(doc); !errors.Is(err, ErrMalformed) {
			t.Errorf("Parse(%q) = %v, want ErrMalformed", doc, err)
		}
	}
}

func TestParseEmpty(t *testing.T) {
	links, err := Parse("")
	if err != nil || links != nil {
		t.Errorf("Parse(\"\") = %v,%v, want nil,nil", links, err)
	}
}
