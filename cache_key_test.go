package quotaguard

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestCacheKeyMapOrderIndependent(t *testing.T) {
	a := map[string]any{"query": "coffee", "radius": 500, "open": true}
	b := map[string]any{"open": true, "radius": 500, "query": "coffee"}

	ka, err := CacheKey("places", a)
	if err != nil {
		t.Fatalf("CacheKey() error = %v", err)
	}
	kb, err := CacheKey("places", b)
	if err != nil {
		t.Fatalf("CacheKey() error = %v", err)
	}

	if ka != kb {
		t.Errorf("Expected equal keys, got %q and %q", ka, kb)
	}
	if want := `places:{"open":true,"query":"coffee","radius":500}`; ka != want {
		t.Errorf("Expected %q, got %q", want, ka)
	}
}

func TestCacheKeyNestedMaps(t *testing.T) {
	a := map[string]any{"outer": map[string]any{"z": 1, "a": []any{map[string]any{"y": 2, "b": 3}}}}
	b := map[string]any{"outer": map[string]any{"a": []any{map[string]any{"b": 3, "y": 2}}, "z": 1}}

	ka, _ := CacheKey("gemini", a)
	kb, _ := CacheKey("gemini", b)
	if ka != kb {
		t.Errorf("Expected equal keys for nested maps, got %q and %q", ka, kb)
	}
}

func TestCacheKeyStructMatchesMap(t *testing.T) {
	type params struct {
		Query  string `json:"query"`
		Radius int    `json:"radius"`
	}

	ks, _ := CacheKey("places", params{Query: "tea", Radius: 100})
	km, _ := CacheKey("places", map[string]any{"radius": 100, "query": "tea"})
	if ks != km {
		t.Errorf("Expected struct and map to share a key, got %q and %q", ks, km)
	}
}

func TestCacheKeyDistinguishesAPIsAndValues(t *testing.T) {
	k1, _ := CacheKey("gemini", map[string]any{"prompt": "hi"})
	k2, _ := CacheKey("places", map[string]any{"prompt": "hi"})
	k3, _ := CacheKey("gemini", map[string]any{"prompt": "hello"})

	if k1 == k2 {
		t.Error("Expected API name to be part of the key")
	}
	if k1 == k3 {
		t.Error("Expected different params to give different keys")
	}
}

func TestCacheKeyLargeNumbers(t *testing.T) {
	k1, _ := CacheKey("api", map[string]any{"id": int64(9007199254740993)})
	k2, _ := CacheKey("api", map[string]any{"id": int64(9007199254740992)})
	if k1 == k2 {
		t.Error("Expected integers beyond float precision to stay distinct")
	}
}

func TestCacheKeyNilParams(t *testing.T) {
	k, err := CacheKey("gemini", nil)
	if err != nil {
		t.Fatalf("CacheKey() error = %v", err)
	}
	if k != "gemini:" {
		t.Errorf("Expected gemini:, got %q", k)
	}
}

func TestCacheKeyUnsupportedParams(t *testing.T) {
	_, err := CacheKey("gemini", map[string]any{"ch": make(chan int)})
	if err == nil {
		t.Fatal("Expected error for unsupported params")
	}

	var typeErr *json.UnsupportedTypeError
	if !errors.As(err, &typeErr) {
		t.Errorf("Expected a wrapped UnsupportedTypeError, got %v", err)
	}
}

type placesQuery struct {
	term string
}

func TestCacheKeyRejectsUnexportedFields(t *testing.T) {
	paris, err := CacheKey("places", placesQuery{term: "paris"})
	if err == nil {
		t.Fatalf("Expected an error for unexported fields, got key %q", paris)
	}

	var fieldErr *UnexportedFieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("Expected UnexportedFieldError, got %v", err)
	}
	if fieldErr.Field != "term" {
		t.Errorf("Expected field term, got %s", fieldErr.Field)
	}

	if _, err := CacheKey("places", map[string]any{"q": &placesQuery{term: "tokyo"}}); err == nil {
		t.Error("Expected nested unexported fields to be rejected")
	}
	if _, err := CacheKey("places", []placesQuery{{term: "tokyo"}}); err == nil {
		t.Error("Expected unexported fields inside slices to be rejected")
	}
}

func TestCacheKeyAllowsIgnoredAndEmbeddedFields(t *testing.T) {
	type base struct {
		Region string `json:"region"`
	}
	type query struct {
		base
		Term  string    `json:"term"`
		Since time.Time `json:"since"`
		Trace string    `json:"-"`
	}

	k1, err := CacheKey("places", query{base: base{Region: "eu"}, Term: "tea", Trace: "a"})
	if err != nil {
		t.Fatalf("CacheKey() error = %v", err)
	}
	k2, err := CacheKey("places", query{base: base{Region: "us"}, Term: "tea", Trace: "a"})
	if err != nil {
		t.Fatalf("CacheKey() error = %v", err)
	}
	k3, err := CacheKey("places", query{base: base{Region: "eu"}, Term: "tea", Trace: "b"})
	if err != nil {
		t.Fatalf("CacheKey() error = %v", err)
	}

	if k1 == k2 {
		t.Errorf("Expected promoted embedded fields to be part of the key, both got %q", k1)
	}
	if k1 != k3 {
		t.Errorf("Expected fields tagged json:\"-\" to be left out, got %q and %q", k1, k3)
	}
}

func TestCacheKeyTypedNilMatchesNil(t *testing.T) {
	var p *placesQuery
	k, err := CacheKey("places", p)
	if err != nil {
		t.Fatalf("CacheKey() error = %v", err)
	}
	if k != "places:" {
		t.Errorf("Expected places:, got %q", k)
	}
}
