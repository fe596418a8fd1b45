package browser

import (
	"context"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

func TestBlockSet(t *testing.T) {
	set := blockSet([]string{"images", "Fonts", "Media", "XHR"})
	for _, rt := range []proto.NetworkResourceType{
		proto.NetworkResourceTypeImage,
		proto.NetworkResourceTypeFont,
		proto.NetworkResourceTypeMedia,
	} {
		if !set[string(rt)] {
			t.Errorf("%s not blocked", rt)
		}
	}
	if set[string(proto.NetworkResourceTypeStylesheet)] || set[string(proto.NetworkResourceTypeDocument)] {
		t.Error("stylesheet or document blocked without being listed")
	}
	if !set["XHR"] {
		t.Error("raw resource type not kept")
	}
}

func TestConfigDefaults(t *testing.T) {
	r := New(Config{})
	if r.cfg.NavTimeout != 30*time.Second || r.cfg.Logger == nil {
		t.Fatalf("defaults not applied: %+v", r.cfg)
	}
}

func TestRenderAfterClose(t *testing.T) {
	r := New(Config{})
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Render(context.Background(), "http://127.0.0.1/"); err == nil {
		t.Fatal("expected error after Close")
	}
}
