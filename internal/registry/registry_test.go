package registry

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestNewKeepsOrderAndNormalizes(t *testing.T) {
	r, err := New(
		Item{Name: "@durov"},
		Item{Name: "https://t.me/s/telegram"},
		Item{Name: " t.me/tginfo/ "},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := []string{"durov", "telegram", "tginfo"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names = %v, want %v", got, want)
	}
	if r.Len() != 3 || r.Empty() {
		t.Fatalf("unexpected len %d", r.Len())
	}
}

func TestNewRejectsDuplicatesAndEmpty(t *testing.T) {
	tests := []struct {
		name  string
		items []Item
		want  error
	}{
		{name: "duplicate", items: []Item{{Name: "a"}, {Name: "@A"}}, want: ErrDuplicateItem},
		{name: "empty", items: []Item{{Name: "  "}}, want: ErrEmptyName},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.items...); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestItemsReturnsCopy(t *testing.T) {
	r, err := New(Item{Name: "a", Config: ChannelConfig{Tags: []string{"x"}}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	items := r.Items()
	items[0].Name = "mutated"
	if r.Names()[0] != "a" {
		t.Fatal("registry was mutated through Items()")
	}
}

func TestStaticSource(t *testing.T) {
	r, _ := New(Item{Name: "a"})
	got, err := Static(r).Snapshot(context.Background())
	if err != nil || got.Len() != 1 {
		t.Fatalf("Snapshot = %v, %v", got, err)
	}
}
