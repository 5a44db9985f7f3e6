package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"asmharvest/internal/config"
	"asmharvest/internal/registry"
)

func refs(ids ...string) []registry.PackageRef {
	out := make([]registry.PackageRef, 0, len(ids))
	for _, id := range ids {
		out = append(out, registry.PackageRef{ID: id, Repository: "https://github.com/x/" + id})
	}
	return out
}

func ids(refs []registry.PackageRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.ID)
	}
	return out
}

func TestFilterPackages(t *testing.T) {
	all := refs("syn", "windows-sys", "ring", "windows_x86_64_msvc", "libc", "Windows-Targets")

	tests := []struct {
		name    string
		include []string
		exclude []string
		max     int
		want    []string
	}{
		{name: "default_exclude", exclude: []string{"*windows*"}, want: []string{"syn", "ring", "libc"}},
		{name: "no_filters", want: []string{"syn", "windows-sys", "ring", "windows_x86_64_msvc", "libc", "Windows-Targets"}},
		{name: "include", include: []string{"ring", "lib*"}, want: []string{"ring", "libc"}},
		{name: "include_and_exclude", include: []string{"windows*"}, exclude: []string{"*msvc"}, want: []string{"windows-sys", "Windows-Targets"}},
		{name: "max_after_filter", exclude: []string{"*windows*"}, max: 2, want: []string{"syn", "ring"}},
		{name: "max_larger_than_list", max: 100, want: []string{"syn", "windows-sys", "ring", "windows_x86_64_msvc", "libc", "Windows-Targets"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New()
			cfg.Registry.Include = tt.include
			cfg.Registry.Exclude = tt.exclude
			cfg.Registry.MaxPackages = tt.max

			got := ids(FilterPackages(all, cfg))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("FilterPackages mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFilterPackages_NilConfigPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for nil config")
		}
	}()
	FilterPackages(nil, nil)
}
